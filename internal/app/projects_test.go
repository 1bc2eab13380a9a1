package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
)

func TestScore(t *testing.T) {
	f := newFixture(t)
	engine := f.svc.Projects
	member := domain.Member{UserID: "u", Role: domain.RolePartner, Title: "Senior Backend Engineer"}
	project := domain.Project{PreferredRole: domain.RolePartner, TitleKeywords: []string{"engineer"}, MinTier: domain.TierNormalUser}

	score, ok := engine.Score(member, domain.TierNormalUser, 0, project)
	require.True(t, ok)
	assert.InDelta(t, 0.40, score, 1e-9)

	score, ok = engine.Score(member, domain.TierFoundingPartner, 25, project)
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)

	other := domain.Project{PreferredRole: domain.RoleOperator, TitleKeywords: []string{"designer"}, MinTier: domain.TierNormalUser}
	score, ok = engine.Score(member, domain.TierSeniorPartner, 5, other)
	require.True(t, ok)
	assert.InDelta(t, 0.35*2.0/3.0+0.25*0.5, score, 1e-9)

	gated := domain.Project{MinTier: domain.TierSeniorPartner}
	_, ok = engine.Score(member, domain.TierRegularPartner, 10, gated)
	assert.False(t, ok)
}

func TestAutoAssignProjects_KeepsTopProposals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Orchestrator.Register(ctx, domain.RegisterRequest{UserID: "dev", Title: "Frontend Engineer"})
	require.NoError(t, err)

	create := func(name string, role domain.Role, keywords []string, minTier domain.Tier) string {
		p, err := f.svc.Projects.CreateProject(ctx, name, role, keywords, minTier)
		require.NoError(t, err)
		return p.ID.String()
	}
	best := create("web app", domain.RoleMember, []string{"frontend"}, "")
	good := create("any title", domain.RoleOperator, nil, "")
	create("ops", domain.RoleOperator, []string{"sre"}, "")
	create("ops 2", domain.RoleAdmin, []string{"dba"}, "")
	create("partners only", "", nil, domain.TierRegularPartner)

	proposals, err := f.svc.Projects.AutoAssignProjects(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, proposals, 3)
	assert.Equal(t, best, proposals[0].ProjectID.String())
	assert.Equal(t, good, proposals[1].ProjectID.String())
	assert.GreaterOrEqual(t, proposals[1].Score, proposals[2].Score)
	assert.Len(t, f.store.Proposals("dev"), 3)

	_, err = f.svc.Projects.AutoAssignProjects(ctx, "stranger")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCompleteParticipation_PaysEarningAndCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")

	project, err := f.svc.Projects.CreateProject(ctx, "migration", "", nil, "")
	require.NoError(t, err)
	participation, err := f.svc.Projects.JoinProject(ctx, "B", project.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipationInProgress, participation.Status)

	result, err := f.svc.CompleteParticipation(ctx, participation.ID, dec("500"))
	require.NoError(t, err)
	requireDecimal(t, "1500", result.Account.RemainingContribution)
	requireDecimal(t, "1050", f.balance(t, "A").RemainingContribution)

	_, err = f.svc.CompleteParticipation(ctx, participation.ID, dec("500"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	requireDecimal(t, "1500", f.balance(t, "B").RemainingContribution)

	completed, err := f.store.CountCompletedParticipations(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, completed)
}

func TestJoinProject_EnforcesMinimumTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "B", "")

	project, err := f.svc.Projects.CreateProject(ctx, "elite", "", nil, domain.TierRegularPartner)
	require.NoError(t, err)

	_, err = f.svc.Projects.JoinProject(ctx, "B", project.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Projects.JoinProject(ctx, "nobody", project.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Projects.CreateProject(ctx, " ", "", nil, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

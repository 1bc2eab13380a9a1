package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

// Auto-assignment score weights. They sum to 1.
const (
	roleFitWeight    = 0.40
	tierWeight       = 0.35
	experienceWeight = 0.25

	experienceCap = 10
)

// ProjectEngine manages projects, participations and auto-assignment proposals.
type ProjectEngine struct {
	runner
	ledger    *Ledger
	referrals *ReferralCalculator
	tiers     domain.TierTable
	topN      int
	now       func() time.Time
}

// NewProjectEngine creates a project engine.
func NewProjectEngine(repo store.Repository, ledger *Ledger, referrals *ReferralCalculator, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, settings Settings, now func() time.Time) *ProjectEngine {
	if now == nil {
		now = time.Now
	}
	return &ProjectEngine{
		runner:    runner{repo: repo, events: events, metrics: m, logger: logger},
		ledger:    ledger,
		referrals: referrals,
		tiers:     settings.Tiers,
		topN:      settings.ProposalTopN,
		now:       now,
	}
}

// CreateProject opens a project.
func (e *ProjectEngine) CreateProject(ctx context.Context, name string, preferredRole domain.Role, keywords []string, minTier domain.Tier) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	if preferredRole != "" && preferredRole.Rank() < 0 {
		return nil, &domain.ValidationError{Field: "preferred_role", Reason: "unknown role " + string(preferredRole)}
	}
	if minTier == "" {
		minTier = domain.TierNormalUser
	}
	if e.tiers.Rank(minTier) < 0 {
		return nil, &domain.ValidationError{Field: "min_tier", Reason: "unknown tier " + string(minTier)}
	}

	project := &domain.Project{
		ID:            uuid.New(),
		Name:          name,
		Status:        domain.ProjectOpen,
		PreferredRole: preferredRole,
		TitleKeywords: normalizeKeywords(keywords),
		MinTier:       minTier,
		CreatedAt:     e.now(),
	}
	err := e.run(ctx, "create_project", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		return tx.InsertProject(ctx, project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// JoinProject starts a participation for a member whose tier meets the project's minimum.
func (e *ProjectEngine) JoinProject(ctx context.Context, userID string, projectID uuid.UUID) (*domain.Participation, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}

	var participation *domain.Participation
	err := e.run(ctx, "join_project", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		if _, err := tx.FindMember(ctx, userID); err != nil {
			if errors.Is(err, store.ErrMemberNotFound) {
				return &domain.ValidationError{Field: "user_id", Reason: "unknown member " + userID}
			}
			return err
		}
		project, err := tx.FindProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrProjectNotFound) {
				return &domain.ValidationError{Field: "project_id", Reason: "unknown project"}
			}
			return err
		}
		if project.Status != domain.ProjectOpen {
			return &domain.ValidationError{Field: "project_id", Reason: "project is " + string(project.Status)}
		}
		account, err := e.ledger.open(ctx, tx, batch, userID)
		if err != nil {
			return err
		}
		if e.tiers.Rank(account.PartnerTier) < e.tiers.Rank(project.MinTier) {
			return &domain.ValidationError{Field: "project_id", Reason: "requires tier " + string(project.MinTier)}
		}

		now := e.now()
		participation = &domain.Participation{
			ID:        uuid.New(),
			UserID:    userID,
			ProjectID: projectID,
			Status:    domain.ParticipationInProgress,
			StartedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertParticipation(ctx, participation); err != nil {
			return err
		}
		return touch(ctx, tx, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return participation, nil
}

// CompleteParticipation closes an in-progress participation and records earning as a
// project earning in the same transaction.
func (e *ProjectEngine) CompleteParticipation(ctx context.Context, participationID uuid.UUID, earning decimal.Decimal) (*domain.EarningResult, error) {
	if err := validatePositive("earning", earning); err != nil {
		return nil, err
	}

	var result *domain.EarningResult
	err := e.run(ctx, "complete_participation", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		p, err := tx.LockParticipation(ctx, participationID)
		if err != nil {
			if errors.Is(err, store.ErrParticipationNotFound) {
				return &domain.ValidationError{Field: "participation_id", Reason: "unknown participation"}
			}
			return err
		}
		if p.Status != domain.ParticipationInProgress {
			return &domain.ValidationError{Field: "participation_id", Reason: "participation is " + string(p.Status)}
		}
		now := e.now()
		if err := tx.UpdateParticipationStatus(ctx, p.ID, domain.ParticipationCompleted, now); err != nil {
			return err
		}
		result, err = e.referrals.recordEarning(ctx, tx, batch, p.UserID, earning, "project "+p.ProjectID.String()+" completed")
		if err != nil {
			return err
		}
		return touch(ctx, tx, p.UserID, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AutoAssignProjects scores the open projects for userID and replaces the user's
// proposals with the best ones. Proposals are suggestions only.
func (e *ProjectEngine) AutoAssignProjects(ctx context.Context, userID string) ([]domain.ProjectProposal, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	member, err := e.repo.FindMember(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, &domain.ValidationError{Field: "user_id", Reason: "unknown member " + userID}
		}
		return nil, err
	}
	account, err := e.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	projects, err := e.repo.ListOpenProjects(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := e.repo.CountCompletedParticipations(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	proposals := make([]domain.ProjectProposal, 0, len(projects))
	for _, p := range projects {
		score, ok := e.Score(*member, account.PartnerTier, completed, p)
		if !ok {
			continue
		}
		proposals = append(proposals, domain.ProjectProposal{
			ID:        uuid.New(),
			UserID:    userID,
			ProjectID: p.ID,
			Score:     score,
			CreatedAt: now,
		})
	}
	sort.SliceStable(proposals, func(i, j int) bool { return proposals[i].Score > proposals[j].Score })
	if e.topN > 0 && len(proposals) > e.topN {
		proposals = proposals[:e.topN]
	}

	err = e.run(ctx, "auto_assign_projects", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		return tx.ReplaceProposals(ctx, userID, proposals)
	})
	if err != nil {
		return nil, err
	}
	return proposals, nil
}

// Score rates how well project fits a member. ok is false when the member's tier is
// below the project's minimum.
func (e *ProjectEngine) Score(member domain.Member, tier domain.Tier, completed int, project domain.Project) (float64, bool) {
	userRank := e.tiers.Rank(tier)
	if userRank < e.tiers.Rank(project.MinTier) {
		return 0, false
	}

	roleFit := 0.0
	if project.PreferredRole == "" || member.Role == project.PreferredRole {
		roleFit += 0.5
	}
	if titleMatches(member.Title, project.TitleKeywords) {
		roleFit += 0.5
	}

	tierFit := 1.0
	if top := e.tiers[len(e.tiers)-1].Rank; top > 0 {
		tierFit = float64(userRank) / float64(top)
	}

	if completed > experienceCap {
		completed = experienceCap
	}
	experience := float64(completed) / experienceCap

	return roleFitWeight*roleFit + tierWeight*tierFit + experienceWeight*experience, true
}

func titleMatches(title string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	title = strings.ToLower(title)
	for _, k := range keywords {
		if strings.Contains(title, k) {
			return true
		}
	}
	return false
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// touch marks the user active at now.
func touch(ctx context.Context, tx store.Tx, userID string, now time.Time) error {
	activity, err := tx.LockActivity(ctx, userID)
	if err != nil {
		return err
	}
	if activity == nil {
		activity = &domain.UserActivity{UserID: userID}
	}
	activity.LastActiveAt = now
	return tx.UpsertActivity(ctx, activity)
}

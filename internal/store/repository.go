/**
 * @description
 * This file defines the `Repository` and `Tx` interfaces, which specify the contract
 * for all data access required by the rewards-service. Every balance mutation runs
 * through `Repository.WithinTx`, so the business logic composes several writes into
 * one all-or-nothing unit without knowing which store backs it.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrMemberNotFound        = errors.New("member not found")
	ErrPoolNotFound          = errors.New("dividend pool not found")
	ErrHoldingNotFound       = errors.New("equity holding not found")
	ErrParticipationNotFound = errors.New("participation not found")
	ErrProjectNotFound       = errors.New("project not found")
)

// Repository is the authoritative store. Reads outside WithinTx observe committed state only.
type Repository interface {
	// WithinTx runs fn inside one transaction. A non-nil error from fn rolls back every write.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindAccount(ctx context.Context, userID string) (*domain.Account, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)
	FindMember(ctx context.Context, userID string) (*domain.Member, error)
	FindPool(ctx context.Context, poolID uuid.UUID) (*domain.DividendPool, error)
	ListDistributions(ctx context.Context, poolID uuid.UUID, round int) ([]domain.DividendDistribution, error)
	ListActiveHoldingsByUser(ctx context.Context, userID string) ([]domain.EquityHolding, error)
	ListCommissionsByReferrer(ctx context.Context, referrerID string, limit int) ([]domain.Commission, error)

	// Daily batch candidate queries.
	ListStreakBadgeCandidates(ctx context.Context, threshold int, badge domain.BadgeType) ([]string, error)
	ListDormantUsers(ctx context.Context, inactiveSince time.Time, rewardType domain.RewardType) ([]string, error)
	ListStaleParticipations(ctx context.Context, startedBefore time.Time) ([]domain.Participation, error)

	// Project auto-assignment inputs.
	ListOpenProjects(ctx context.Context) ([]domain.Project, error)
	CountCompletedParticipations(ctx context.Context, userID string) (int, error)
}

// Tx is the set of operations available inside one transaction. Lock* methods take
// a row lock that is held until the transaction ends.
type Tx interface {
	// Accounts and audit trail
	LockAccount(ctx context.Context, userID string) (*domain.Account, error)
	InsertAccount(ctx context.Context, account *domain.Account) (bool, error)
	UpdateAccount(ctx context.Context, account *domain.Account) error
	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	InsertTierChange(ctx context.Context, change *TierChange) error

	// Members and roles
	FindMember(ctx context.Context, userID string) (*domain.Member, error)
	LockMember(ctx context.Context, userID string) (*domain.Member, error)
	InsertMember(ctx context.Context, member *domain.Member) error
	UpdateMemberRole(ctx context.Context, userID string, role domain.Role) error
	CountMembersWithRole(ctx context.Context, role domain.Role) (int, error)

	// Referral graph and commissions
	FindReferrer(ctx context.Context, refereeID string) (string, bool, error)
	InsertReferralEdge(ctx context.Context, edge *domain.ReferralEdge) error
	InsertCommission(ctx context.Context, commission *domain.Commission) error
	LockPendingCommissions(ctx context.Context, limit int) ([]domain.Commission, error)
	MarkCommissionsPooled(ctx context.Context, ids []uuid.UUID, poolID uuid.UUID, at time.Time) error

	// Dividend pools and equity
	InsertPool(ctx context.Context, pool *domain.DividendPool) error
	LockPool(ctx context.Context, poolID uuid.UUID) (*domain.DividendPool, error)
	UpdatePool(ctx context.Context, pool *domain.DividendPool) error
	FindActiveHolding(ctx context.Context, userID string, poolID uuid.UUID) (*domain.EquityHolding, error)
	LockHolding(ctx context.Context, holdingID uuid.UUID) (*domain.EquityHolding, error)
	InsertHolding(ctx context.Context, holding *domain.EquityHolding) error
	UpdateHolding(ctx context.Context, holding *domain.EquityHolding) error
	ListActiveHoldings(ctx context.Context, poolID uuid.UUID) ([]domain.EquityHolding, error)
	InsertDistribution(ctx context.Context, distribution *domain.DividendDistribution) error

	// Activity, rewards and badges
	LockActivity(ctx context.Context, userID string) (*domain.UserActivity, error)
	UpsertActivity(ctx context.Context, activity *domain.UserActivity) error
	InsertPendingReward(ctx context.Context, reward *domain.PendingReward) error
	LockClaimableRewards(ctx context.Context, userID string, now time.Time) ([]domain.PendingReward, error)
	MarkRewardGranted(ctx context.Context, rewardID uuid.UUID, at time.Time) error
	HasUngrantedReward(ctx context.Context, userID string, rewardType domain.RewardType, now time.Time) (bool, error)
	HasBadge(ctx context.Context, userID string, badge domain.BadgeType) (bool, error)
	InsertBadge(ctx context.Context, badge *domain.Badge) error
	BestBadgeMultiplier(ctx context.Context, userID string) (decimal.Decimal, error)

	// Projects
	InsertProject(ctx context.Context, project *domain.Project) error
	FindProject(ctx context.Context, projectID uuid.UUID) (*domain.Project, error)
	InsertParticipation(ctx context.Context, participation *domain.Participation) error
	LockParticipation(ctx context.Context, participationID uuid.UUID) (*domain.Participation, error)
	UpdateParticipationStatus(ctx context.Context, participationID uuid.UUID, status domain.ParticipationStatus, at time.Time) error
	ReplaceProposals(ctx context.Context, userID string, proposals []domain.ProjectProposal) error
}

// TierChange is the audit row written by every applied tier upgrade.
type TierChange struct {
	ID               uuid.UUID
	UserID           string
	FromTier         domain.Tier
	ToTier           domain.Tier
	IsInvestment     bool
	InvestmentAmount decimal.Decimal
	Reward           decimal.Decimal
	CreatedAt        time.Time
}

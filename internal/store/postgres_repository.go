/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for accounts, the ledger audit trail, the referral graph,
 * dividend pools and the daily batch bookkeeping tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns scan into decimal.Decimal.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Balance rows are always read with `SELECT ... FOR UPDATE` inside WithinTx, the
 *   same row-lock discipline used by the wallet debit path.
 * - Serialization failures and deadlocks surface as domain.ConcurrencyConflictError;
 *   they are never retried here.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// MapError translates PostgreSQL failures into domain errors.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return &domain.ConcurrencyConflictError{Op: op, Err: err}
		case "23505":
			return &domain.IntegrityViolationError{Entity: pgErr.TableName, Reason: "duplicate " + pgErr.ConstraintName}
		}
	}
	return err
}

// WithinTx runs fn in a single database transaction.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return MapError("transaction", err)
	}
	return MapError("commit", tx.Commit(ctx))
}

const accountColumns = `user_id, cumulative_contribution, project_contribution, remaining_contribution,
	consumed_contribution, initial_contribution, referral_reward, commission_income, team_income,
	partner_tier, direct_investment, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.UserID, &a.CumulativeContribution, &a.ProjectContribution, &a.RemainingContribution,
		&a.ConsumedContribution, &a.InitialContribution, &a.ReferralReward, &a.CommissionIncome, &a.TeamIncome,
		&a.PartnerTier, &a.DirectInvestment, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccount reads the committed account row without locking it.
func (r *PostgresRepository) FindAccount(ctx context.Context, userID string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1", userID))
}

// ListLedgerEntries returns the newest entries first.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, user_id, amount, direction, category, description, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Direction, &e.Category, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanMember(row pgx.Row) (*domain.Member, error) {
	var m domain.Member
	if err := row.Scan(&m.UserID, &m.Role, &m.Title, &m.RegisteredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMember retrieves a member by user id.
func (r *PostgresRepository) FindMember(ctx context.Context, userID string) (*domain.Member, error) {
	return scanMember(r.db.QueryRow(ctx, "SELECT user_id, role, title, registered_at FROM members WHERE user_id = $1", userID))
}

const poolColumns = `id, name, pool_type, period, total_pool_amount, available_amount, distributed_amount,
	total_equity, round, status, created_at, updated_at`

func scanPool(row pgx.Row) (*domain.DividendPool, error) {
	var p domain.DividendPool
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Period, &p.TotalPoolAmount, &p.AvailableAmount, &p.DistributedAmount,
		&p.TotalEquity, &p.Round, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindPool retrieves a dividend pool by id.
func (r *PostgresRepository) FindPool(ctx context.Context, poolID uuid.UUID) (*domain.DividendPool, error) {
	return scanPool(r.db.QueryRow(ctx, "SELECT "+poolColumns+" FROM dividend_pools WHERE id = $1", poolID))
}

// ListDistributions returns the payout records of a pool. A round of 0 returns every round.
func (r *PostgresRepository) ListDistributions(ctx context.Context, poolID uuid.UUID, round int) ([]domain.DividendDistribution, error) {
	query := `
		SELECT id, pool_id, equity_holding_id, user_id, round, dividend_amount, contribution_credited, created_at
		FROM dividend_distributions
		WHERE pool_id = $1 AND ($2::int = 0 OR round = $2::int)
		ORDER BY round, created_at, id
	`
	rows, err := r.db.Query(ctx, query, poolID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DividendDistribution
	for rows.Next() {
		var d domain.DividendDistribution
		if err := rows.Scan(&d.ID, &d.PoolID, &d.EquityHoldingID, &d.UserID, &d.Round, &d.DividendAmount, &d.ContributionCredited, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const holdingColumns = `id, user_id, pool_id, equity_percentage, granted_date, expires_date, status, revoked_reason, updated_at`

func scanHolding(row pgx.Row) (*domain.EquityHolding, error) {
	var h domain.EquityHolding
	err := row.Scan(&h.ID, &h.UserID, &h.PoolID, &h.EquityPercentage, &h.GrantedDate, &h.ExpiresDate, &h.Status, &h.RevokedReason, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoldingNotFound
		}
		return nil, err
	}
	return &h, nil
}

func collectHoldings(rows pgx.Rows) ([]domain.EquityHolding, error) {
	defer rows.Close()
	var out []domain.EquityHolding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// ListActiveHoldingsByUser returns the user's active, unexpired holdings across all pools.
func (r *PostgresRepository) ListActiveHoldingsByUser(ctx context.Context, userID string) ([]domain.EquityHolding, error) {
	query := "SELECT " + holdingColumns + ` FROM equity_holdings
		WHERE user_id = $1 AND status = 'active' AND (expires_date IS NULL OR expires_date > NOW())
		ORDER BY granted_date, id`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

const commissionColumns = `id, referrer_id, referee_id, level, rate, amount, category, is_upgrade_reward,
	pool_share, status, pooled_into, created_at, pooled_at`

func collectCommissions(rows pgx.Rows) ([]domain.Commission, error) {
	defer rows.Close()
	var out []domain.Commission
	for rows.Next() {
		var c domain.Commission
		err := rows.Scan(&c.ID, &c.ReferrerID, &c.RefereeID, &c.Level, &c.Rate, &c.Amount, &c.Category, &c.IsUpgradeReward,
			&c.PoolShare, &c.Status, &c.PooledInto, &c.CreatedAt, &c.PooledAt)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCommissionsByReferrer returns the newest commissions paid to referrerID.
func (r *PostgresRepository) ListCommissionsByReferrer(ctx context.Context, referrerID string, limit int) ([]domain.Commission, error) {
	rows, err := r.db.Query(ctx, "SELECT "+commissionColumns+" FROM commissions WHERE referrer_id = $1 ORDER BY created_at DESC LIMIT $2", referrerID, limit)
	if err != nil {
		return nil, err
	}
	return collectCommissions(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStreakBadgeCandidates returns users whose streak reached threshold and who lack the badge.
func (r *PostgresRepository) ListStreakBadgeCandidates(ctx context.Context, threshold int, badge domain.BadgeType) ([]string, error) {
	query := `
		SELECT ua.user_id
		FROM user_activity ua
		WHERE ua.login_streak >= $1
		  AND NOT EXISTS (SELECT 1 FROM badges b WHERE b.user_id = ua.user_id AND b.badge_type = $2)
		ORDER BY ua.user_id
	`
	rows, err := r.db.Query(ctx, query, threshold, badge)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// ListDormantUsers returns users inactive since the cutoff without an open reward of rewardType.
func (r *PostgresRepository) ListDormantUsers(ctx context.Context, inactiveSince time.Time, rewardType domain.RewardType) ([]string, error) {
	query := `
		SELECT ua.user_id
		FROM user_activity ua
		WHERE ua.last_active_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM pending_rewards pr
			WHERE pr.user_id = ua.user_id AND pr.reward_type = $2 AND pr.is_granted = FALSE AND pr.expires_at > NOW()
		  )
		ORDER BY ua.user_id
	`
	rows, err := r.db.Query(ctx, query, inactiveSince, rewardType)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// ListStaleParticipations returns in-progress participations started before the cutoff.
func (r *PostgresRepository) ListStaleParticipations(ctx context.Context, startedBefore time.Time) ([]domain.Participation, error) {
	query := `
		SELECT id, user_id, project_id, status, started_at, updated_at
		FROM project_participations
		WHERE status = 'in_progress' AND started_at < $1
		ORDER BY started_at, id
	`
	rows, err := r.db.Query(ctx, query, startedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participation
	for rows.Next() {
		var p domain.Participation
		if err := rows.Scan(&p.ID, &p.UserID, &p.ProjectID, &p.Status, &p.StartedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOpenProjects returns every project accepting participants.
func (r *PostgresRepository) ListOpenProjects(ctx context.Context) ([]domain.Project, error) {
	query := `
		SELECT id, name, status, preferred_role, title_keywords, min_tier, created_at
		FROM projects
		WHERE status = 'open'
		ORDER BY created_at, id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.PreferredRole, &p.TitleKeywords, &p.MinTier, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountCompletedParticipations counts the projects a user has finished.
func (r *PostgresRepository) CountCompletedParticipations(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM project_participations WHERE user_id = $1 AND status = 'completed'", userID).Scan(&n)
	return n, err
}

// pgTx implements Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, userID string) (*domain.Account, error) {
	// Use FOR UPDATE to lock the row, preventing race conditions.
	return scanAccount(t.tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 FOR UPDATE", userID))
}

// InsertAccount reports false when a concurrent transaction created the row first.
func (t *pgTx) InsertAccount(ctx context.Context, a *domain.Account) (bool, error) {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO NOTHING
	`
	tag, err := t.tx.Exec(ctx, query,
		a.UserID, a.CumulativeContribution, a.ProjectContribution, a.RemainingContribution,
		a.ConsumedContribution, a.InitialContribution, a.ReferralReward, a.CommissionIncome, a.TeamIncome,
		a.PartnerTier, a.DirectInvestment, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *domain.Account) error {
	query := `
		UPDATE accounts SET
			cumulative_contribution = $2, project_contribution = $3, remaining_contribution = $4,
			consumed_contribution = $5, initial_contribution = $6, referral_reward = $7,
			commission_income = $8, team_income = $9, partner_tier = $10, direct_investment = $11,
			updated_at = $12
		WHERE user_id = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		a.UserID, a.CumulativeContribution, a.ProjectContribution, a.RemainingContribution,
		a.ConsumedContribution, a.InitialContribution, a.ReferralReward,
		a.CommissionIncome, a.TeamIncome, a.PartnerTier, a.DirectInvestment, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, user_id, amount, direction, category, description, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, e.ID, e.UserID, e.Amount, e.Direction, e.Category, e.Description, e.BalanceAfter, e.CreatedAt)
	return err
}

func (t *pgTx) InsertTierChange(ctx context.Context, c *TierChange) error {
	query := `
		INSERT INTO tier_changes (id, user_id, from_tier, to_tier, is_investment, investment_amount, reward, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, c.ID, c.UserID, c.FromTier, c.ToTier, c.IsInvestment, c.InvestmentAmount, c.Reward, c.CreatedAt)
	return err
}

func (t *pgTx) FindMember(ctx context.Context, userID string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRow(ctx, "SELECT user_id, role, title, registered_at FROM members WHERE user_id = $1", userID))
}

func (t *pgTx) LockMember(ctx context.Context, userID string) (*domain.Member, error) {
	return scanMember(t.tx.QueryRow(ctx, "SELECT user_id, role, title, registered_at FROM members WHERE user_id = $1 FOR UPDATE", userID))
}

func (t *pgTx) InsertMember(ctx context.Context, m *domain.Member) error {
	_, err := t.tx.Exec(ctx, "INSERT INTO members (user_id, role, title, registered_at) VALUES ($1, $2, $3, $4)",
		m.UserID, m.Role, m.Title, m.RegisteredAt)
	return err
}

func (t *pgTx) UpdateMemberRole(ctx context.Context, userID string, role domain.Role) error {
	tag, err := t.tx.Exec(ctx, "UPDATE members SET role = $2 WHERE user_id = $1", userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (t *pgTx) CountMembersWithRole(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, "SELECT COUNT(*) FROM members WHERE role = $1", role).Scan(&n)
	return n, err
}

func (t *pgTx) FindReferrer(ctx context.Context, refereeID string) (string, bool, error) {
	var referrer string
	err := t.tx.QueryRow(ctx, "SELECT referrer_id FROM referral_edges WHERE referee_id = $1", refereeID).Scan(&referrer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return referrer, true, nil
}

func (t *pgTx) InsertReferralEdge(ctx context.Context, e *domain.ReferralEdge) error {
	_, err := t.tx.Exec(ctx, "INSERT INTO referral_edges (referee_id, referrer_id, created_at) VALUES ($1, $2, $3)",
		e.RefereeID, e.ReferrerID, e.CreatedAt)
	return err
}

func (t *pgTx) InsertCommission(ctx context.Context, c *domain.Commission) error {
	query := `
		INSERT INTO commissions (` + commissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := t.tx.Exec(ctx, query, c.ID, c.ReferrerID, c.RefereeID, c.Level, c.Rate, c.Amount, c.Category,
		c.IsUpgradeReward, c.PoolShare, c.Status, c.PooledInto, c.CreatedAt, c.PooledAt)
	return err
}

// LockPendingCommissions skips rows another sweep already holds.
func (t *pgTx) LockPendingCommissions(ctx context.Context, limit int) ([]domain.Commission, error) {
	query := "SELECT " + commissionColumns + ` FROM commissions
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`
	rows, err := t.tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return collectCommissions(rows)
}

func (t *pgTx) MarkCommissionsPooled(ctx context.Context, ids []uuid.UUID, poolID uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE commissions SET status = 'pooled', pooled_into = $2, pooled_at = $3
		WHERE id = ANY($1::uuid[]) AND status = 'pending'
	`, idStrings, poolID, at)
	return err
}

func (t *pgTx) InsertPool(ctx context.Context, p *domain.DividendPool) error {
	query := `
		INSERT INTO dividend_pools (` + poolColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.tx.Exec(ctx, query, p.ID, p.Name, p.Type, p.Period, p.TotalPoolAmount, p.AvailableAmount,
		p.DistributedAmount, p.TotalEquity, p.Round, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) LockPool(ctx context.Context, poolID uuid.UUID) (*domain.DividendPool, error) {
	return scanPool(t.tx.QueryRow(ctx, "SELECT "+poolColumns+" FROM dividend_pools WHERE id = $1 FOR UPDATE", poolID))
}

func (t *pgTx) UpdatePool(ctx context.Context, p *domain.DividendPool) error {
	query := `
		UPDATE dividend_pools SET
			total_pool_amount = $2, available_amount = $3, distributed_amount = $4,
			total_equity = $5, round = $6, status = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, p.ID, p.TotalPoolAmount, p.AvailableAmount, p.DistributedAmount,
		p.TotalEquity, p.Round, p.Status, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPoolNotFound
	}
	return nil
}

// FindActiveHolding returns nil without error when the user holds no active equity in the pool.
func (t *pgTx) FindActiveHolding(ctx context.Context, userID string, poolID uuid.UUID) (*domain.EquityHolding, error) {
	h, err := scanHolding(t.tx.QueryRow(ctx,
		"SELECT "+holdingColumns+" FROM equity_holdings WHERE user_id = $1 AND pool_id = $2 AND status = 'active'",
		userID, poolID))
	if errors.Is(err, ErrHoldingNotFound) {
		return nil, nil
	}
	return h, err
}

func (t *pgTx) LockHolding(ctx context.Context, holdingID uuid.UUID) (*domain.EquityHolding, error) {
	return scanHolding(t.tx.QueryRow(ctx, "SELECT "+holdingColumns+" FROM equity_holdings WHERE id = $1 FOR UPDATE", holdingID))
}

func (t *pgTx) InsertHolding(ctx context.Context, h *domain.EquityHolding) error {
	query := `
		INSERT INTO equity_holdings (` + holdingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.Exec(ctx, query, h.ID, h.UserID, h.PoolID, h.EquityPercentage, h.GrantedDate, h.ExpiresDate,
		h.Status, h.RevokedReason, h.UpdatedAt)
	return err
}

func (t *pgTx) UpdateHolding(ctx context.Context, h *domain.EquityHolding) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE equity_holdings SET equity_percentage = $2, expires_date = $3, status = $4, revoked_reason = $5, updated_at = $6
		WHERE id = $1
	`, h.ID, h.EquityPercentage, h.ExpiresDate, h.Status, h.RevokedReason, h.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

// ListActiveHoldings share-locks the pool's holdings so none is revoked mid-distribution.
func (t *pgTx) ListActiveHoldings(ctx context.Context, poolID uuid.UUID) ([]domain.EquityHolding, error) {
	query := "SELECT " + holdingColumns + ` FROM equity_holdings
		WHERE pool_id = $1 AND status = 'active'
		ORDER BY granted_date, id
		FOR SHARE`
	rows, err := t.tx.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	return collectHoldings(rows)
}

func (t *pgTx) InsertDistribution(ctx context.Context, d *domain.DividendDistribution) error {
	query := `
		INSERT INTO dividend_distributions (id, pool_id, equity_holding_id, user_id, round, dividend_amount, contribution_credited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, d.ID, d.PoolID, d.EquityHoldingID, d.UserID, d.Round, d.DividendAmount, d.ContributionCredited, d.CreatedAt)
	return err
}

// LockActivity returns nil without error when the user has never logged in.
func (t *pgTx) LockActivity(ctx context.Context, userID string) (*domain.UserActivity, error) {
	var a domain.UserActivity
	err := t.tx.QueryRow(ctx,
		"SELECT user_id, last_login_date, login_streak, last_active_at FROM user_activity WHERE user_id = $1 FOR UPDATE",
		userID).Scan(&a.UserID, &a.LastLoginDate, &a.LoginStreak, &a.LastActiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) UpsertActivity(ctx context.Context, a *domain.UserActivity) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_activity (user_id, last_login_date, login_streak, last_active_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			last_login_date = EXCLUDED.last_login_date,
			login_streak = EXCLUDED.login_streak,
			last_active_at = EXCLUDED.last_active_at
	`, a.UserID, a.LastLoginDate, a.LoginStreak, a.LastActiveAt)
	return err
}

func (t *pgTx) InsertPendingReward(ctx context.Context, p *domain.PendingReward) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pending_rewards (id, user_id, reward_type, amount, expires_at, is_granted, granted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.RewardType, p.Amount, p.ExpiresAt, p.IsGranted, p.GrantedAt, p.CreatedAt)
	return err
}

func (t *pgTx) LockClaimableRewards(ctx context.Context, userID string, now time.Time) ([]domain.PendingReward, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, user_id, reward_type, amount, expires_at, is_granted, granted_at, created_at
		FROM pending_rewards
		WHERE user_id = $1 AND is_granted = FALSE AND expires_at > $2
		ORDER BY created_at, id
		FOR UPDATE
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingReward
	for rows.Next() {
		var p domain.PendingReward
		if err := rows.Scan(&p.ID, &p.UserID, &p.RewardType, &p.Amount, &p.ExpiresAt, &p.IsGranted, &p.GrantedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkRewardGranted(ctx context.Context, rewardID uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx, "UPDATE pending_rewards SET is_granted = TRUE, granted_at = $2 WHERE id = $1 AND is_granted = FALSE", rewardID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.IntegrityViolationError{Entity: "pending_rewards", Reason: "reward already granted"}
	}
	return nil
}

func (t *pgTx) HasUngrantedReward(ctx context.Context, userID string, rewardType domain.RewardType, now time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pending_rewards
			WHERE user_id = $1 AND reward_type = $2 AND is_granted = FALSE AND expires_at > $3
		)
	`, userID, rewardType, now).Scan(&exists)
	return exists, err
}

func (t *pgTx) HasBadge(ctx context.Context, userID string, badge domain.BadgeType) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM badges WHERE user_id = $1 AND badge_type = $2)", userID, badge).Scan(&exists)
	return exists, err
}

func (t *pgTx) InsertBadge(ctx context.Context, b *domain.Badge) error {
	_, err := t.tx.Exec(ctx, "INSERT INTO badges (id, user_id, badge_type, multiplier, granted_at) VALUES ($1, $2, $3, $4, $5)",
		b.ID, b.UserID, b.BadgeType, b.Multiplier, b.GrantedAt)
	return err
}

// BestBadgeMultiplier returns 1 when the user has no badge.
func (t *pgTx) BestBadgeMultiplier(ctx context.Context, userID string) (decimal.Decimal, error) {
	var m decimal.Decimal
	err := t.tx.QueryRow(ctx, "SELECT COALESCE(MAX(multiplier), 1) FROM badges WHERE user_id = $1", userID).Scan(&m)
	if err != nil {
		return decimal.Zero, err
	}
	return m, nil
}

func (t *pgTx) InsertProject(ctx context.Context, p *domain.Project) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO projects (id, name, status, preferred_role, title_keywords, min_tier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Status, p.PreferredRole, p.TitleKeywords, p.MinTier, p.CreatedAt)
	return err
}

func (t *pgTx) FindProject(ctx context.Context, projectID uuid.UUID) (*domain.Project, error) {
	var p domain.Project
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, status, preferred_role, title_keywords, min_tier, created_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&p.ID, &p.Name, &p.Status, &p.PreferredRole, &p.TitleKeywords, &p.MinTier, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertParticipation(ctx context.Context, p *domain.Participation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO project_participations (id, user_id, project_id, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.ProjectID, p.Status, p.StartedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) LockParticipation(ctx context.Context, participationID uuid.UUID) (*domain.Participation, error) {
	var p domain.Participation
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, project_id, status, started_at, updated_at
		FROM project_participations WHERE id = $1 FOR UPDATE
	`, participationID).Scan(&p.ID, &p.UserID, &p.ProjectID, &p.Status, &p.StartedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipationNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) UpdateParticipationStatus(ctx context.Context, participationID uuid.UUID, status domain.ParticipationStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, "UPDATE project_participations SET status = $2, updated_at = $3 WHERE id = $1", participationID, status, at)
	return err
}

// ReplaceProposals swaps the user's previous proposals for the new set.
func (t *pgTx) ReplaceProposals(ctx context.Context, userID string, proposals []domain.ProjectProposal) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM project_proposals WHERE user_id = $1", userID); err != nil {
		return err
	}
	if len(proposals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range proposals {
		batch.Queue("INSERT INTO project_proposals (id, user_id, project_id, score, created_at) VALUES ($1, $2, $3, $4, $5)",
			p.ID, p.UserID, p.ProjectID, p.Score, p.CreatedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

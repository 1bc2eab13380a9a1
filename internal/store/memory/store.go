// Package memory is an in-process implementation of store.Repository. It backs the
// unit tests and local runs without PostgreSQL. One mutex serializes transactions and
// each transaction works on a private copy of the state, so a failed transaction
// leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
)

type state struct {
	accounts       map[string]domain.Account
	ledger         []domain.LedgerEntry
	tierChanges    []store.TierChange
	members        map[string]domain.Member
	edges          map[string]domain.ReferralEdge
	commissions    []domain.Commission
	pools          map[uuid.UUID]domain.DividendPool
	holdings       map[uuid.UUID]domain.EquityHolding
	distributions  []domain.DividendDistribution
	activity       map[string]domain.UserActivity
	rewards        []domain.PendingReward
	badges         []domain.Badge
	projects       map[uuid.UUID]domain.Project
	participations map[uuid.UUID]domain.Participation
	proposals      map[string][]domain.ProjectProposal
}

func newState() *state {
	return &state{
		accounts:       make(map[string]domain.Account),
		members:        make(map[string]domain.Member),
		edges:          make(map[string]domain.ReferralEdge),
		pools:          make(map[uuid.UUID]domain.DividendPool),
		holdings:       make(map[uuid.UUID]domain.EquityHolding),
		activity:       make(map[string]domain.UserActivity),
		projects:       make(map[uuid.UUID]domain.Project),
		participations: make(map[uuid.UUID]domain.Participation),
		proposals:      make(map[string][]domain.ProjectProposal),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	proposals := make(map[string][]domain.ProjectProposal, len(s.proposals))
	for k, v := range s.proposals {
		proposals[k] = append([]domain.ProjectProposal(nil), v...)
	}
	return &state{
		accounts:       copyMap(s.accounts),
		ledger:         append([]domain.LedgerEntry(nil), s.ledger...),
		tierChanges:    append([]store.TierChange(nil), s.tierChanges...),
		members:        copyMap(s.members),
		edges:          copyMap(s.edges),
		commissions:    append([]domain.Commission(nil), s.commissions...),
		pools:          copyMap(s.pools),
		holdings:       copyMap(s.holdings),
		distributions:  append([]domain.DividendDistribution(nil), s.distributions...),
		activity:       copyMap(s.activity),
		rewards:        append([]domain.PendingReward(nil), s.rewards...),
		badges:         append([]domain.Badge(nil), s.badges...),
		projects:       copyMap(s.projects),
		participations: copyMap(s.participations),
		proposals:      proposals,
	}
}

// Store is the in-memory Repository.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New returns an empty Store that reads the wall clock for expiry checks.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock replaces the clock used by queries that compare against the current time.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// WithinTx runs fn against a private copy of the state and publishes it only on success.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) FindAccount(_ context.Context, userID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(s.st.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.st.ledger[i].UserID == userID {
			out = append(out, s.st.ledger[i])
		}
	}
	return out, nil
}

func (s *Store) FindMember(_ context.Context, userID string) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.members[userID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	return &m, nil
}

func (s *Store) FindPool(_ context.Context, poolID uuid.UUID) (*domain.DividendPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.pools[poolID]
	if !ok {
		return nil, store.ErrPoolNotFound
	}
	return &p, nil
}

func (s *Store) ListDistributions(_ context.Context, poolID uuid.UUID, round int) ([]domain.DividendDistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DividendDistribution
	for _, d := range s.st.distributions {
		if d.PoolID == poolID && (round == 0 || d.Round == round) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) ListActiveHoldingsByUser(_ context.Context, userID string) ([]domain.EquityHolding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []domain.EquityHolding
	for _, h := range s.st.holdings {
		if h.UserID == userID && h.ActiveAt(now) {
			out = append(out, h)
		}
	}
	sortHoldings(out)
	return out, nil
}

func (s *Store) ListCommissionsByReferrer(_ context.Context, referrerID string, limit int) ([]domain.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Commission
	for i := len(s.st.commissions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.st.commissions[i].ReferrerID == referrerID {
			out = append(out, s.st.commissions[i])
		}
	}
	return out, nil
}

func (s *Store) ListStreakBadgeCandidates(_ context.Context, threshold int, badge domain.BadgeType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for userID, a := range s.st.activity {
		if a.LoginStreak >= threshold && !s.st.hasBadge(userID, badge) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListDormantUsers(_ context.Context, inactiveSince time.Time, rewardType domain.RewardType) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for userID, a := range s.st.activity {
		if a.LastActiveAt.Before(inactiveSince) && !s.st.hasOpenReward(userID, rewardType, now) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListStaleParticipations(_ context.Context, startedBefore time.Time) ([]domain.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participation
	for _, p := range s.st.participations {
		if p.Status == domain.ParticipationInProgress && p.StartedAt.Before(startedBefore) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) ListOpenProjects(_ context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.st.projects {
		if p.Status == domain.ProjectOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CountCompletedParticipations(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.st.participations {
		if p.UserID == userID && p.Status == domain.ParticipationCompleted {
			n++
		}
	}
	return n, nil
}

// Proposals returns the stored auto-assignment proposals of a user.
func (s *Store) Proposals(userID string) []domain.ProjectProposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProjectProposal(nil), s.st.proposals[userID]...)
}

// Commissions returns every commission record in insertion order.
func (s *Store) Commissions() []domain.Commission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Commission(nil), s.st.commissions...)
}

// TierChanges returns the tier audit rows of a user.
func (s *Store) TierChanges(userID string) []store.TierChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.TierChange
	for _, c := range s.st.tierChanges {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// PendingRewards returns every pending reward row of a user, granted or not.
func (s *Store) PendingRewards(userID string) []domain.PendingReward {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingReward
	for _, r := range s.st.rewards {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// SetActivity overwrites a user's activity row.
func (s *Store) SetActivity(a domain.UserActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.activity[a.UserID] = a
}

func (s *state) hasBadge(userID string, badge domain.BadgeType) bool {
	for _, b := range s.badges {
		if b.UserID == userID && b.BadgeType == badge {
			return true
		}
	}
	return false
}

func (s *state) hasOpenReward(userID string, rewardType domain.RewardType, now time.Time) bool {
	for _, r := range s.rewards {
		if r.UserID == userID && r.RewardType == rewardType && r.Claimable(now) {
			return true
		}
	}
	return false
}

func sortHoldings(hs []domain.EquityHolding) {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].GrantedDate.Equal(hs[j].GrantedDate) {
			return hs[i].ID.String() < hs[j].ID.String()
		}
		return hs[i].GrantedDate.Before(hs[j].GrantedDate)
	})
}

// memTx is the Tx view over a transaction's working copy.
type memTx struct {
	st *state
}

func (t *memTx) LockAccount(_ context.Context, userID string) (*domain.Account, error) {
	a, ok := t.st.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAccount(_ context.Context, a *domain.Account) (bool, error) {
	if _, ok := t.st.accounts[a.UserID]; ok {
		return false, nil
	}
	t.st.accounts[a.UserID] = *a
	return true, nil
}

func (t *memTx) UpdateAccount(_ context.Context, a *domain.Account) error {
	if _, ok := t.st.accounts[a.UserID]; !ok {
		return store.ErrAccountNotFound
	}
	if a.RemainingContribution.IsNegative() {
		return &domain.IntegrityViolationError{Entity: "accounts", Reason: "remaining_contribution below zero"}
	}
	t.st.accounts[a.UserID] = *a
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	t.st.ledger = append(t.st.ledger, *e)
	return nil
}

func (t *memTx) InsertTierChange(_ context.Context, c *store.TierChange) error {
	for _, existing := range t.st.tierChanges {
		if existing.UserID == c.UserID && existing.ToTier == c.ToTier {
			return &domain.IntegrityViolationError{Entity: "tier_changes", Reason: "tier already applied"}
		}
	}
	t.st.tierChanges = append(t.st.tierChanges, *c)
	return nil
}

func (t *memTx) FindMember(_ context.Context, userID string) (*domain.Member, error) {
	m, ok := t.st.members[userID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	return &m, nil
}

func (t *memTx) LockMember(ctx context.Context, userID string) (*domain.Member, error) {
	return t.FindMember(ctx, userID)
}

func (t *memTx) InsertMember(_ context.Context, m *domain.Member) error {
	if _, ok := t.st.members[m.UserID]; ok {
		return &domain.IntegrityViolationError{Entity: "members", Reason: "duplicate member " + m.UserID}
	}
	if m.Role == domain.TopRole && t.st.countRole(domain.TopRole) > 0 {
		return &domain.IntegrityViolationError{Entity: "members", Reason: "top role already held"}
	}
	t.st.members[m.UserID] = *m
	return nil
}

func (t *memTx) UpdateMemberRole(_ context.Context, userID string, role domain.Role) error {
	m, ok := t.st.members[userID]
	if !ok {
		return store.ErrMemberNotFound
	}
	if role == domain.TopRole && m.Role != domain.TopRole && t.st.countRole(domain.TopRole) > 0 {
		return &domain.IntegrityViolationError{Entity: "members", Reason: "top role already held"}
	}
	m.Role = role
	t.st.members[userID] = m
	return nil
}

func (t *memTx) CountMembersWithRole(_ context.Context, role domain.Role) (int, error) {
	return t.st.countRole(role), nil
}

func (s *state) countRole(role domain.Role) int {
	n := 0
	for _, m := range s.members {
		if m.Role == role {
			n++
		}
	}
	return n
}

func (t *memTx) FindReferrer(_ context.Context, refereeID string) (string, bool, error) {
	e, ok := t.st.edges[refereeID]
	if !ok {
		return "", false, nil
	}
	return e.ReferrerID, true, nil
}

func (t *memTx) InsertReferralEdge(_ context.Context, e *domain.ReferralEdge) error {
	if _, ok := t.st.edges[e.RefereeID]; ok {
		return &domain.IntegrityViolationError{Entity: "referral_edges", Reason: "referrer already set for " + e.RefereeID}
	}
	t.st.edges[e.RefereeID] = *e
	return nil
}

func (t *memTx) InsertCommission(_ context.Context, c *domain.Commission) error {
	t.st.commissions = append(t.st.commissions, *c)
	return nil
}

func (t *memTx) LockPendingCommissions(_ context.Context, limit int) ([]domain.Commission, error) {
	var out []domain.Commission
	for _, c := range t.st.commissions {
		if c.Status == domain.CommissionPending {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (t *memTx) MarkCommissionsPooled(_ context.Context, ids []uuid.UUID, poolID uuid.UUID, at time.Time) error {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range t.st.commissions {
		c := &t.st.commissions[i]
		if _, ok := want[c.ID]; ok && c.Status == domain.CommissionPending {
			pid, ts := poolID, at
			c.Status = domain.CommissionPooled
			c.PooledInto = &pid
			c.PooledAt = &ts
		}
	}
	return nil
}

func (t *memTx) InsertPool(_ context.Context, p *domain.DividendPool) error {
	t.st.pools[p.ID] = *p
	return nil
}

func (t *memTx) LockPool(_ context.Context, poolID uuid.UUID) (*domain.DividendPool, error) {
	p, ok := t.st.pools[poolID]
	if !ok {
		return nil, store.ErrPoolNotFound
	}
	return &p, nil
}

func (t *memTx) UpdatePool(_ context.Context, p *domain.DividendPool) error {
	if _, ok := t.st.pools[p.ID]; !ok {
		return store.ErrPoolNotFound
	}
	if p.AvailableAmount.IsNegative() {
		return &domain.IntegrityViolationError{Entity: "dividend_pools", Reason: "available_amount below zero"}
	}
	t.st.pools[p.ID] = *p
	return nil
}

func (t *memTx) FindActiveHolding(_ context.Context, userID string, poolID uuid.UUID) (*domain.EquityHolding, error) {
	for _, h := range t.st.holdings {
		if h.UserID == userID && h.PoolID == poolID && h.Status == domain.HoldingActive {
			return &h, nil
		}
	}
	return nil, nil
}

func (t *memTx) LockHolding(_ context.Context, holdingID uuid.UUID) (*domain.EquityHolding, error) {
	h, ok := t.st.holdings[holdingID]
	if !ok {
		return nil, store.ErrHoldingNotFound
	}
	return &h, nil
}

func (t *memTx) InsertHolding(ctx context.Context, h *domain.EquityHolding) error {
	if h.Status == domain.HoldingActive {
		if existing, _ := t.FindActiveHolding(ctx, h.UserID, h.PoolID); existing != nil {
			return &domain.IntegrityViolationError{Entity: "equity_holdings", Reason: "active holding already exists"}
		}
	}
	t.st.holdings[h.ID] = *h
	return nil
}

func (t *memTx) UpdateHolding(_ context.Context, h *domain.EquityHolding) error {
	if _, ok := t.st.holdings[h.ID]; !ok {
		return store.ErrHoldingNotFound
	}
	t.st.holdings[h.ID] = *h
	return nil
}

func (t *memTx) ListActiveHoldings(_ context.Context, poolID uuid.UUID) ([]domain.EquityHolding, error) {
	var out []domain.EquityHolding
	for _, h := range t.st.holdings {
		if h.PoolID == poolID && h.Status == domain.HoldingActive {
			out = append(out, h)
		}
	}
	sortHoldings(out)
	return out, nil
}

func (t *memTx) InsertDistribution(_ context.Context, d *domain.DividendDistribution) error {
	for _, existing := range t.st.distributions {
		if existing.PoolID == d.PoolID && existing.Round == d.Round && existing.EquityHoldingID == d.EquityHoldingID {
			return &domain.IntegrityViolationError{Entity: "dividend_distributions", Reason: "holding already paid this round"}
		}
	}
	t.st.distributions = append(t.st.distributions, *d)
	return nil
}

func (t *memTx) LockActivity(_ context.Context, userID string) (*domain.UserActivity, error) {
	a, ok := t.st.activity[userID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *memTx) UpsertActivity(_ context.Context, a *domain.UserActivity) error {
	t.st.activity[a.UserID] = *a
	return nil
}

func (t *memTx) InsertPendingReward(_ context.Context, p *domain.PendingReward) error {
	t.st.rewards = append(t.st.rewards, *p)
	return nil
}

func (t *memTx) LockClaimableRewards(_ context.Context, userID string, now time.Time) ([]domain.PendingReward, error) {
	var out []domain.PendingReward
	for _, r := range t.st.rewards {
		if r.UserID == userID && r.Claimable(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) MarkRewardGranted(_ context.Context, rewardID uuid.UUID, at time.Time) error {
	for i := range t.st.rewards {
		r := &t.st.rewards[i]
		if r.ID != rewardID {
			continue
		}
		if r.IsGranted {
			return &domain.IntegrityViolationError{Entity: "pending_rewards", Reason: "reward already granted"}
		}
		ts := at
		r.IsGranted = true
		r.GrantedAt = &ts
		return nil
	}
	return &domain.IntegrityViolationError{Entity: "pending_rewards", Reason: "reward not found"}
}

func (t *memTx) HasUngrantedReward(_ context.Context, userID string, rewardType domain.RewardType, now time.Time) (bool, error) {
	return t.st.hasOpenReward(userID, rewardType, now), nil
}

func (t *memTx) HasBadge(_ context.Context, userID string, badge domain.BadgeType) (bool, error) {
	return t.st.hasBadge(userID, badge), nil
}

func (t *memTx) InsertBadge(_ context.Context, b *domain.Badge) error {
	if t.st.hasBadge(b.UserID, b.BadgeType) {
		return &domain.IntegrityViolationError{Entity: "badges", Reason: "badge already granted"}
	}
	t.st.badges = append(t.st.badges, *b)
	return nil
}

func (t *memTx) BestBadgeMultiplier(_ context.Context, userID string) (decimal.Decimal, error) {
	best := decimal.NewFromInt(1)
	found := false
	for _, b := range t.st.badges {
		if b.UserID != userID {
			continue
		}
		if !found || b.Multiplier.GreaterThan(best) {
			best = b.Multiplier
			found = true
		}
	}
	return best, nil
}

func (t *memTx) InsertProject(_ context.Context, p *domain.Project) error {
	t.st.projects[p.ID] = *p
	return nil
}

func (t *memTx) FindProject(_ context.Context, projectID uuid.UUID) (*domain.Project, error) {
	p, ok := t.st.projects[projectID]
	if !ok {
		return nil, store.ErrProjectNotFound
	}
	return &p, nil
}

func (t *memTx) InsertParticipation(_ context.Context, p *domain.Participation) error {
	t.st.participations[p.ID] = *p
	return nil
}

func (t *memTx) LockParticipation(_ context.Context, participationID uuid.UUID) (*domain.Participation, error) {
	p, ok := t.st.participations[participationID]
	if !ok {
		return nil, store.ErrParticipationNotFound
	}
	return &p, nil
}

func (t *memTx) UpdateParticipationStatus(_ context.Context, participationID uuid.UUID, status domain.ParticipationStatus, at time.Time) error {
	p, ok := t.st.participations[participationID]
	if !ok {
		return store.ErrParticipationNotFound
	}
	p.Status = status
	p.UpdatedAt = at
	t.st.participations[participationID] = p
	return nil
}

func (t *memTx) ReplaceProposals(_ context.Context, userID string, proposals []domain.ProjectProposal) error {
	if len(proposals) == 0 {
		delete(t.st.proposals, userID)
		return nil
	}
	t.st.proposals[userID] = append([]domain.ProjectProposal(nil), proposals...)
	return nil
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*memTx)(nil)
)

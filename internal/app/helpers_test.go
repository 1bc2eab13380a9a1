package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store/memory"
	"github.com/transfa/rewards-service/pkg/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherStub) Publish(_ context.Context, _ string, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	clock     *testClock
	publisher *publisherStub
	metrics   *metrics.Collector
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, mutate ...func(*Settings)) *fixture {
	t.Helper()
	settings := DefaultSettings()
	for _, m := range mutate {
		m(&settings)
	}
	clock := newTestClock()
	st := memory.New().WithClock(clock.Now)
	pub := &publisherStub{}
	collector := metrics.NewCollector(testLogger())
	svc := NewService(st, testLogger(), settings, Options{
		Publisher: pub,
		Exchange:  "rewards.events",
		Metrics:   collector,
		Now:       clock.Now,
	})
	return &fixture{svc: svc, store: st, clock: clock, publisher: pub, metrics: collector}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// register creates a member, optionally referred by referrer.
func (f *fixture) register(t *testing.T, userID, referrer string) {
	t.Helper()
	req := domain.RegisterRequest{UserID: userID}
	if referrer != "" {
		req.ReferrerID = &referrer
	}
	_, err := f.svc.Orchestrator.Register(context.Background(), req)
	require.NoError(t, err)
}

func (f *fixture) registerWithRole(t *testing.T, userID string, role domain.Role) {
	t.Helper()
	_, err := f.svc.Orchestrator.Register(context.Background(), domain.RegisterRequest{UserID: userID, Role: role})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID string) *domain.Account {
	t.Helper()
	account, err := f.svc.Ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return account
}

/**
 * @description
 * This file wires the rewards engines into one Service. Collaborators (the HTTP API,
 * the scheduler) talk to the Service; the guarded methods run the safety validator
 * before handing off to the ledger.
 *
 * @dependencies
 * - pkg/rabbitmq: Event publishing after commit.
 * - pkg/metrics: Ledger and batch metrics.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
	"github.com/transfa/rewards-service/pkg/rabbitmq"
)

// Service is the operation surface of the rewards ledger.
type Service struct {
	Ledger       *Ledger
	Referrals    *ReferralCalculator
	Tiers        *TierEngine
	Dividends    *DividendEngine
	Safety       *SafetyValidator
	Roles        *RoleManager
	Orchestrator *Orchestrator
	Projects     *ProjectEngine

	logger *slog.Logger
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Publisher rabbitmq.Publisher
	Exchange  string
	Metrics   *metrics.Collector
	Now       func() time.Time
}

// NewService builds every engine over repo.
func NewService(repo store.Repository, logger *slog.Logger, settings Settings, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	events := NewEventEmitter(opts.Publisher, opts.Exchange, opts.Metrics, logger)

	ledger := NewLedger(repo, events, opts.Metrics, logger, settings, now)
	referrals := NewReferralCalculator(repo, ledger, events, opts.Metrics, logger, settings, now)
	return &Service{
		Ledger:       ledger,
		Referrals:    referrals,
		Tiers:        NewTierEngine(repo, ledger, referrals, events, opts.Metrics, logger, settings, now),
		Dividends:    NewDividendEngine(repo, ledger, events, opts.Metrics, logger, now),
		Safety:       NewSafetyValidator(repo, logger, settings),
		Roles:        NewRoleManager(repo, opts.Metrics, logger),
		Orchestrator: NewOrchestrator(repo, ledger, referrals, events, opts.Metrics, logger, settings, now),
		Projects:     NewProjectEngine(repo, ledger, referrals, events, opts.Metrics, logger, settings, now),
		logger:       logger,
	}
}

// AddContribution validates and credits a contribution.
func (s *Service) AddContribution(ctx context.Context, userID string, amount decimal.Decimal, category domain.Category, description string) (*domain.Account, error) {
	if err := s.Safety.Guard(ctx, userID, domain.OperationParams{TransactionType: domain.TxCredit, Amount: amount}); err != nil {
		return nil, err
	}
	return s.Ledger.AddContribution(ctx, userID, amount, category, description)
}

// ConsumeContribution validates against the fresh balance and debits.
func (s *Service) ConsumeContribution(ctx context.Context, userID string, amount decimal.Decimal, description string) (*domain.Account, error) {
	if err := s.Safety.Guard(ctx, userID, domain.OperationParams{TransactionType: domain.TxDebit, Amount: amount}); err != nil {
		return nil, err
	}
	return s.Ledger.ConsumeContribution(ctx, userID, amount, description)
}

// TransferContribution validates and moves contribution between users.
func (s *Service) TransferContribution(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	params := domain.OperationParams{TransactionType: domain.TxTransfer, Amount: amount, TargetUserID: toUserID}
	if err := s.Safety.Guard(ctx, fromUserID, params); err != nil {
		return nil, err
	}
	return s.Ledger.TransferContribution(ctx, fromUserID, toUserID, amount, description)
}

// ExchangeContribution validates the exchange rules and converts contribution to currency.
func (s *Service) ExchangeContribution(ctx context.Context, userID string, amount decimal.Decimal) (*domain.ExchangeResult, error) {
	if err := s.Safety.Guard(ctx, userID, domain.OperationParams{TransactionType: domain.TxExchange, Amount: amount}); err != nil {
		return nil, err
	}
	return s.Ledger.ExchangeContribution(ctx, userID, amount)
}

// RecordProjectEarning pays a project earning and then upgrades the earner's tier if
// the new cumulative balance qualifies. A failed upgrade does not undo the earning.
func (s *Service) RecordProjectEarning(ctx context.Context, userID string, amount decimal.Decimal, description string) (*domain.EarningResult, error) {
	if err := s.Safety.Guard(ctx, userID, domain.OperationParams{TransactionType: domain.TxCredit, Amount: amount}); err != nil {
		return nil, err
	}
	result, err := s.Referrals.RecordProjectEarning(ctx, userID, amount, description)
	if err != nil {
		return nil, err
	}
	s.upgradeQuietly(ctx, userID)
	return result, nil
}

// CompleteParticipation closes a participation with its earning, then checks the tier.
func (s *Service) CompleteParticipation(ctx context.Context, participationID uuid.UUID, earning decimal.Decimal) (*domain.EarningResult, error) {
	result, err := s.Projects.CompleteParticipation(ctx, participationID, earning)
	if err != nil {
		return nil, err
	}
	s.upgradeQuietly(ctx, result.Account.UserID)
	return result, nil
}

func (s *Service) upgradeQuietly(ctx context.Context, userID string) {
	if _, err := s.Tiers.UpgradeIfEligible(ctx, userID); err != nil {
		s.logger.Warn("automatic tier upgrade failed", "component", "service", "user_id", userID, "error", err)
	}
}

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
)

type MaturityRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error)
	OrganizersWithPending(ctx context.Context) ([]string, error)
	FirstPaidSaleDate(ctx context.Context, organizerID string) (*time.Time, error)
	MaturedSales(ctx context.Context, organizerID string, cutoff time.Time) (decimal.Decimal, error)
	ReversalTotal(ctx context.Context, organizerID string) (decimal.Decimal, error)
	Release(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
}

// MaturityService promotes pending funds to available once the settlement
// delay has elapsed since the organizer's first paid sale. The releasable
// amount is recomputed from the ledger on every run: refunds against
// already-matured sales must retroactively shrink what is releasable.
type MaturityService struct {
	repo        MaturityRepository
	clock       clock.Clock
	delay       time.Duration
	invalidator BalanceInvalidator
	logger      *slog.Logger
}

func NewMaturityService(repo MaturityRepository, clk clock.Clock, delay time.Duration, opts ...MaturityOption) *MaturityService {
	svc := &MaturityService{
		repo:        repo,
		clock:       clk,
		delay:       delay,
		invalidator: noopInvalidator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type MaturityOption func(*MaturityService)

func WithMaturityLogger(logger *slog.Logger) MaturityOption {
	return func(s *MaturityService) { s.logger = logger }
}

func WithMaturityInvalidator(inv BalanceInvalidator) MaturityOption {
	return func(s *MaturityService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// RunForOrganizer recomputes and releases matured funds for one organizer in
// a single transaction.
func (s *MaturityService) RunForOrganizer(ctx context.Context, organizerID string) error {
	now := s.clock.Now()
	var released decimal.Decimal

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		acc, err := s.repo.LockBalance(txCtx, organizerID)
		if err != nil {
			return err
		}
		if !acc.Pending.IsPositive() {
			return nil
		}

		firstPaid, err := s.repo.FirstPaidSaleDate(txCtx, organizerID)
		if err != nil {
			return err
		}
		// Balances built only from free tickets never mature through this
		// path; they stay pending until a paid sale starts the clock.
		if firstPaid == nil {
			return nil
		}
		if now.Sub(*firstPaid) < s.delay {
			return nil
		}

		cutoff := now.Add(-s.delay)
		matured, err := s.repo.MaturedSales(txCtx, organizerID, cutoff)
		if err != nil {
			return err
		}
		reversals, err := s.repo.ReversalTotal(txCtx, organizerID)
		if err != nil {
			return err
		}

		alreadyReleased := acc.Available.Add(acc.Withdrawn)
		toMove := matured.Sub(reversals).Sub(alreadyReleased)
		if toMove.GreaterThan(acc.Pending) {
			toMove = acc.Pending
		}
		if !toMove.IsPositive() {
			return nil
		}

		if _, err := s.repo.Release(txCtx, organizerID, toMove); err != nil {
			return err
		}
		released = toMove
		return nil
	})
	if err != nil {
		return err
	}

	if released.IsPositive() {
		metrics.SweepReleases.Inc()
		s.invalidator.Invalidate(ctx, organizerID)
		s.logger.InfoContext(ctx, "matured funds released",
			"organizer_id", organizerID, "amount", released.String())
	}
	return nil
}

// Run sweeps every organizer with a pending balance. Each organizer is an
// independent atomic unit; cancellation between organizers is safe and
// partial progress stands.
func (s *MaturityService) Run(ctx context.Context) error {
	metrics.SweepRuns.Inc()

	ids, err := s.repo.OrganizersWithPending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RunForOrganizer(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "maturity sweep failed for organizer",
				"organizer_id", id, "err", err)
		}
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
	"github.com/hdticketdesk/platform/services/settlement/internal/notify"
)

type SettlementRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetPaymentForUpdate(ctx context.Context, reference string) (domain.Payment, error)
	SetPaymentStatus(ctx context.Context, reference string, status domain.PaymentStatus, externalRef string, paidAt *time.Time) error
	GetTierPricing(ctx context.Context, tierID string) (domain.TierPricing, error)
	ReserveSeat(ctx context.Context, tierID string) error
	CreateTicket(ctx context.Context, t domain.Ticket) error
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
	CreditPending(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
	ListPendingReferences(ctx context.Context) ([]string, error)
}

// OrganizerSweeper is the on-demand hook into the maturity sweep: a newly
// settled sale can itself push older funds across the maturity boundary.
type OrganizerSweeper interface {
	RunForOrganizer(ctx context.Context, organizerID string) error
}

// BalanceInvalidator drops a cached balance after a commit moved money.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, organizerID string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string) {}

// SettlementService turns verified provider confirmations into tickets and
// ledger credits, exactly once per external transaction.
type SettlementService struct {
	repo        SettlementRepository
	gateway     gateway.PaymentGateway
	notifier    notify.Notifier
	sweeper     OrganizerSweeper
	invalidator BalanceInvalidator
	clock       clock.Clock
	feePercent  decimal.Decimal
	logger      *slog.Logger
}

func NewSettlementService(
	repo SettlementRepository,
	gw gateway.PaymentGateway,
	notifier notify.Notifier,
	sweeper OrganizerSweeper,
	clk clock.Clock,
	feePercent decimal.Decimal,
	opts ...SettlementOption,
) *SettlementService {
	svc := &SettlementService{
		repo:        repo,
		gateway:     gw,
		notifier:    notifier,
		sweeper:     sweeper,
		invalidator: noopInvalidator{},
		clock:       clk,
		feePercent:  feePercent,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type SettlementOption func(*SettlementService)

func WithSettlementLogger(logger *slog.Logger) SettlementOption {
	return func(s *SettlementService) { s.logger = logger }
}

func WithSettlementInvalidator(inv BalanceInvalidator) SettlementOption {
	return func(s *SettlementService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// Confirmation is a verified payment event, from a webhook or a polling
// verification call. Duplicate delivery is the normal case.
type Confirmation struct {
	Reference   string
	ExternalRef string
	AmountPaid  decimal.Decimal
	PaidAt      time.Time
}

type SettleOutcome string

const (
	OutcomeSettled          SettleOutcome = "settled"
	OutcomeDuplicate        SettleOutcome = "duplicate"
	OutcomeUnknownReference SettleOutcome = "unknown"
	OutcomeAmountMismatch   SettleOutcome = "amount_mismatch"
	OutcomeSoldOut          SettleOutcome = "sold_out"
)

type SettleResult struct {
	Outcome SettleOutcome
	Ticket  domain.Ticket
	Entry   domain.LedgerEntry
}

// errSkipSettlement aborts the settlement transaction when the ledger dedup
// key fires; the caller reports a duplicate, not a failure.
var errSkipSettlement = errors.New("settlement skipped: duplicate ledger entry")

// SettlePayment applies one confirmation. An unknown reference is logged and
// discarded; a non-pending payment is an idempotent no-op. Amount mismatches
// mark the payment failed. A sold-out tier aborts the whole transaction and
// leaves the payment pending for manual reconciliation.
func (s *SettlementService) SettlePayment(ctx context.Context, conf Confirmation) (SettleResult, error) {
	if conf.Reference == "" {
		return SettleResult{}, domain.ErrPaymentNotFound
	}

	now := s.clock.Now()
	var result SettleResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		payment, err := s.repo.GetPaymentForUpdate(txCtx, conf.Reference)
		if err != nil {
			return err
		}
		if payment.Status != domain.PaymentPending {
			result = SettleResult{Outcome: OutcomeDuplicate}
			return nil
		}

		pricing, err := s.repo.GetTierPricing(txCtx, payment.TierID)
		if err != nil {
			return err
		}

		expected := domain.ExpectedCharge(pricing.Price, pricing.BuyerPaysFee, s.feePercent)
		if !domain.WithinTolerance(conf.AmountPaid, expected) {
			if err := s.repo.SetPaymentStatus(txCtx, conf.Reference, domain.PaymentFailed, conf.ExternalRef, nil); err != nil {
				return err
			}
			s.logger.WarnContext(txCtx, "payment amount mismatch",
				"reference", conf.Reference,
				"expected", expected.String(),
				"paid", conf.AmountPaid.String())
			result = SettleResult{Outcome: OutcomeAmountMismatch}
			return nil
		}

		if err := s.repo.ReserveSeat(txCtx, payment.TierID); err != nil {
			return err
		}

		paidAt := conf.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}

		ticket := domain.Ticket{
			ID:               uuid.NewString(),
			TierID:           pricing.TierID,
			EventID:          pricing.EventID,
			OrganizerID:      pricing.OrganizerID,
			PaymentReference: payment.Reference,
			AttendeeEmail:    payment.AttendeeEmail,
			Status:           domain.TicketActive,
			CreatedAt:        now,
		}
		if err := s.repo.CreateTicket(txCtx, ticket); err != nil {
			return err
		}

		if err := s.repo.SetPaymentStatus(txCtx, conf.Reference, domain.PaymentSuccess, conf.ExternalRef, &paidAt); err != nil {
			return err
		}

		net := domain.OrganizerNet(pricing.Price, pricing.BuyerPaysFee, s.feePercent)
		entry := domain.NewCreditEntry(uuid.NewString(), pricing.OrganizerID, domain.EntrySale, net, paidAt)
		entry.TicketID = ticket.ID
		entry.ExternalRef = conf.ExternalRef
		entry.CreatedAt = now

		acc, err := s.repo.CreditPending(txCtx, pricing.OrganizerID, net)
		if err != nil {
			return err
		}
		entry.PendingAfter = acc.Pending
		entry.AvailableAfter = acc.Available

		if err := s.repo.AppendEntry(txCtx, &entry); err != nil {
			if errors.Is(err, domain.ErrDuplicateEntry) {
				return errSkipSettlement
			}
			return err
		}

		result = SettleResult{Outcome: OutcomeSettled, Ticket: ticket, Entry: entry}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errSkipSettlement):
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return SettleResult{Outcome: OutcomeDuplicate}, nil
	case errors.Is(err, domain.ErrPaymentNotFound):
		s.logger.WarnContext(ctx, "confirmation for unknown payment discarded", "reference", conf.Reference)
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeUnknownReference)).Inc()
		return SettleResult{Outcome: OutcomeUnknownReference}, nil
	case errors.Is(err, domain.ErrSoldOut):
		s.logger.ErrorContext(ctx, "settlement aborted: tier sold out, payment held for manual review",
			"reference", conf.Reference)
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeSoldOut)).Inc()
		return SettleResult{Outcome: OutcomeSoldOut}, domain.ErrSoldOut
	default:
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return SettleResult{}, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(result.Outcome)).Inc()

	if result.Outcome == OutcomeSettled {
		metrics.LedgerEntriesTotal.WithLabelValues(string(domain.EntrySale)).Inc()
		s.afterSettlement(ctx, result.Ticket)
	}
	return result, nil
}

// afterSettlement runs the best-effort steps outside the atomic unit.
// Failures are logged, never rolled back into the settlement.
func (s *SettlementService) afterSettlement(ctx context.Context, ticket domain.Ticket) {
	s.invalidator.Invalidate(ctx, ticket.OrganizerID)
	if s.sweeper != nil {
		if err := s.sweeper.RunForOrganizer(ctx, ticket.OrganizerID); err != nil {
			s.logger.ErrorContext(ctx, "post-settlement maturity sweep failed",
				"organizer_id", ticket.OrganizerID, "err", err)
		}
	}
	if s.notifier != nil {
		s.notifier.TicketConfirmed(ctx, ticket)
	}
}

// VerifyPayment re-checks one payment against the provider and settles it
// when the provider reports success.
func (s *SettlementService) VerifyPayment(ctx context.Context, reference string) (SettleResult, error) {
	verification, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return SettleResult{}, err
	}
	if verification.Status != gateway.VerificationSuccess {
		return SettleResult{Outcome: OutcomeDuplicate}, domain.ErrPaymentNotPending
	}
	return s.SettlePayment(ctx, Confirmation{
		Reference:   reference,
		ExternalRef: verification.ExternalRef,
		AmountPaid:  verification.AmountPaid,
		PaidAt:      verification.PaidAt,
	})
}

// VerifySweepReport summarizes a bulk re-verification run.
type VerifySweepReport struct {
	Checked int
	Settled int
	Failed  int
}

// VerifyPendingPayments re-verifies every pending payment. Each payment is
// its own atomic unit; cancellation between payments leaves no partial
// state behind.
func (s *SettlementService) VerifyPendingPayments(ctx context.Context) (VerifySweepReport, error) {
	refs, err := s.repo.ListPendingReferences(ctx)
	if err != nil {
		return VerifySweepReport{}, err
	}

	var report VerifySweepReport
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		res, err := s.VerifyPayment(ctx, ref)
		if err != nil {
			if !errors.Is(err, domain.ErrPaymentNotPending) {
				s.logger.WarnContext(ctx, "pending payment verification failed", "reference", ref, "err", err)
				report.Failed++
			}
			continue
		}
		if res.Outcome == OutcomeSettled {
			report.Settled++
		}
	}
	return report, nil
}

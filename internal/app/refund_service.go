package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
)

type RefundRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetTicket(ctx context.Context, id string) (domain.Ticket, error)
	TryRefund(ctx context.Context, id string) (bool, error)
	TryCancel(ctx context.Context, id string) (bool, error)
	SaleNetForTicket(ctx context.Context, ticketID string) (decimal.Decimal, time.Time, error)
	DebitPendingFirst(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

// RefundService posts refund and chargeback reversals. Both claw back the
// organizer net that the original sale credited, draining pending before
// available, and void the ticket in the same transaction. The ledger's
// per-ticket uniqueness on (organizer, ticket, type) makes retries no-ops.
type RefundService struct {
	repo        RefundRepository
	invalidator BalanceInvalidator
	clock       clock.Clock
	logger      *slog.Logger
}

func NewRefundService(repo RefundRepository, clk clock.Clock, opts ...RefundOption) *RefundService {
	svc := &RefundService{
		repo:        repo,
		invalidator: noopInvalidator{},
		clock:       clk,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type RefundOption func(*RefundService)

func WithRefundLogger(logger *slog.Logger) RefundOption {
	return func(s *RefundService) { s.logger = logger }
}

func WithRefundInvalidator(inv BalanceInvalidator) RefundOption {
	return func(s *RefundService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

type ReversalOutcome string

const (
	OutcomeReversed        ReversalOutcome = "reversed"
	OutcomeAlreadyReversed ReversalOutcome = "duplicate"
)

type ReversalResult struct {
	Outcome ReversalOutcome
	Ticket  domain.Ticket
}

// PostRefund reverses a sale for a ticket that has not been used. Only active
// tickets are refundable; a checked-in ticket has delivered its value.
// A retry of a posted refund returns the duplicate outcome, not an error.
func (s *RefundService) PostRefund(ctx context.Context, ticketID, externalRef string) (ReversalResult, error) {
	return s.reverse(ctx, ticketID, externalRef, domain.EntryRefund)
}

// PostChargeback reverses a sale the payment processor has pulled back. The
// ticket is voided even when already checked in; the dispute outranks entry.
func (s *RefundService) PostChargeback(ctx context.Context, ticketID, externalRef string) (ReversalResult, error) {
	return s.reverse(ctx, ticketID, externalRef, domain.EntryChargeback)
}

func (s *RefundService) reverse(ctx context.Context, ticketID, externalRef string, typ domain.EntryType) (ReversalResult, error) {
	var ticket domain.Ticket
	duplicate := false

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		ticket, err = s.repo.GetTicket(txCtx, ticketID)
		if err != nil {
			return err
		}

		var moved bool
		if typ == domain.EntryChargeback {
			moved, err = s.repo.TryCancel(txCtx, ticketID)
		} else {
			moved, err = s.repo.TryRefund(txCtx, ticketID)
		}
		if err != nil {
			return err
		}
		if !moved {
			ticket, err = s.repo.GetTicket(txCtx, ticketID)
			if err != nil {
				return err
			}
			if sameOutcome(ticket.Status, typ) {
				duplicate = true
				return nil
			}
			return domain.ErrTicketNotRefundable
		}
		ticket.Status = targetStatus(typ)

		net, _, err := s.repo.SaleNetForTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if !net.IsPositive() {
			// Free tickets carry no money to reverse; the status change above
			// is the whole operation.
			return nil
		}

		now := s.clock.Now()
		acc, err := s.repo.DebitPendingFirst(txCtx, ticket.OrganizerID, net)
		if err != nil {
			return err
		}
		entry := domain.NewDebitEntry(uuid.NewString(), ticket.OrganizerID, typ, net, now)
		entry.TicketID = ticketID
		entry.ExternalRef = externalRef
		entry.CreatedAt = now
		entry.PendingAfter = acc.Pending
		entry.AvailableAfter = acc.Available
		return s.repo.AppendEntry(txCtx, &entry)
	})
	if err != nil {
		return ReversalResult{Ticket: ticket}, err
	}
	if duplicate {
		return ReversalResult{Outcome: OutcomeAlreadyReversed, Ticket: ticket}, nil
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(typ)).Inc()
	s.invalidator.Invalidate(context.WithoutCancel(ctx), ticket.OrganizerID)
	s.logger.Info("reversal posted",
		slog.String("ticket_id", ticket.ID),
		slog.String("organizer_id", ticket.OrganizerID),
		slog.String("type", string(typ)))
	return ReversalResult{Outcome: OutcomeReversed, Ticket: ticket}, nil
}

func targetStatus(typ domain.EntryType) domain.TicketStatus {
	if typ == domain.EntryChargeback {
		return domain.TicketCancelled
	}
	return domain.TicketRefunded
}

// sameOutcome reports whether the ticket already sits in the state this
// reversal would produce, meaning the request is a retry of a posted entry.
func sameOutcome(status domain.TicketStatus, typ domain.EntryType) bool {
	return status == targetStatus(typ)
}

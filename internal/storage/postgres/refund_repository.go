package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// RefundRepository bundles the ledger operations with the ticket state
// transitions a reversal needs, so the service runs both inside one
// transaction.
type RefundRepository struct {
	*LedgerRepository
	tickets *TicketRepository
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{
		LedgerRepository: NewLedgerRepository(pool),
		tickets:          NewTicketRepository(pool),
	}
}

func (r *RefundRepository) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return r.tickets.GetTicket(ctx, id)
}

func (r *RefundRepository) TryRefund(ctx context.Context, id string) (bool, error) {
	return r.tickets.TryRefund(ctx, id)
}

func (r *RefundRepository) TryCancel(ctx context.Context, id string) (bool, error) {
	return r.tickets.TryCancel(ctx, id)
}

// SaleNetForTicket returns the organizer net credited when the ticket's sale
// settled, which is the exact amount a reversal claws back.
func (r *RefundRepository) SaleNetForTicket(ctx context.Context, ticketID string) (decimal.Decimal, time.Time, error) {
	var raw string
	var valueDate time.Time
	err := r.queryRow(ctx,
		`SELECT net_amount::TEXT, value_date FROM ledger_entries
		 WHERE ticket_id = $1 AND entry_type = 'sale'`,
		ticketID,
	).Scan(&raw, &valueDate)
	if err != nil {
		if isInvalidUUID(err) {
			return decimal.Zero, time.Time{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return decimal.Zero, time.Time{}, domain.ErrTicketNotFound
		}
		return decimal.Zero, time.Time{}, fmt.Errorf("sale entry for ticket: %w", err)
	}
	net, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("parse sale net: %w", err)
	}
	return net, valueDate, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// TicketRepository performs the conditional state transitions on tickets:
// check-in and refund both update only when the current status still allows
// the move, never read-then-write.
type TicketRepository struct {
	querier
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{querier{pool: pool}}
}

func (r *TicketRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *TicketRepository) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	const query = `
SELECT id, tier_id, event_id, organizer_id, payment_reference, COALESCE(attendee_email, ''),
       status, checked_in_at, COALESCE(checked_in_by, ''), created_at
FROM tickets WHERE id = $1`

	var t domain.Ticket
	err := r.queryRow(ctx, query, id).
		Scan(&t.ID, &t.TierID, &t.EventID, &t.OrganizerID, &t.PaymentReference, &t.AttendeeEmail,
			&t.Status, &t.CheckedInAt, &t.CheckedInBy, &t.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Ticket{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// TryCheckIn redeems the ticket only if it is still active, stamping the
// checker identity and time in the same statement. Returns false when the
// update affected no rows; the caller re-reads to learn the actual state.
func (r *TicketRepository) TryCheckIn(ctx context.Context, id, staffID string, at time.Time) (bool, error) {
	tag, err := r.exec(ctx,
		`UPDATE tickets SET status = 'checked_in', checked_in_at = $3, checked_in_by = $2
		 WHERE id = $1 AND status = 'active'`,
		id, staffID, at,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("check in ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TryCancel voids a ticket after a chargeback. Chargebacks can land after the
// holder has already entered the venue, so checked-in tickets cancel too.
func (r *TicketRepository) TryCancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.exec(ctx,
		`UPDATE tickets SET status = 'cancelled' WHERE id = $1 AND status IN ('active', 'checked_in')`,
		id,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("cancel ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TryRefund transitions active -> refunded with the same conditional guard.
func (r *TicketRepository) TryRefund(ctx context.Context, id string) (bool, error) {
	tag, err := r.exec(ctx,
		`UPDATE tickets SET status = 'refunded' WHERE id = $1 AND status = 'active'`,
		id,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("refund ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

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

// SettlementRepository extends the ledger store with the payment, tier, and
// ticket operations that make up the settlement transaction.
type SettlementRepository struct {
	*LedgerRepository
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{LedgerRepository: NewLedgerRepository(pool)}
}

// GetPaymentForUpdate locks the payment row; the status check that gates the
// whole settlement happens against this locked read.
func (r *SettlementRepository) GetPaymentForUpdate(ctx context.Context, reference string) (domain.Payment, error) {
	const query = `
SELECT reference, COALESCE(external_ref, ''), tier_id, COALESCE(attendee_email, ''),
       amount::TEXT, status, created_at, paid_at
FROM payments WHERE reference = $1 FOR UPDATE`

	var p domain.Payment
	var amount string
	err := r.queryRow(ctx, query, reference).
		Scan(&p.Reference, &p.ExternalRef, &p.TierID, &p.AttendeeEmail, &amount, &p.Status, &p.CreatedAt, &p.PaidAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Payment{}, fmt.Errorf("parse payment amount: %w", err)
	}
	return p, nil
}

// SetPaymentStatus records the terminal outcome of a settlement attempt.
func (r *SettlementRepository) SetPaymentStatus(ctx context.Context, reference string, status domain.PaymentStatus, externalRef string, paidAt *time.Time) error {
	_, err := r.exec(ctx,
		`UPDATE payments SET status = $2, external_ref = COALESCE(NULLIF($3, ''), external_ref), paid_at = COALESCE($4, paid_at)
		 WHERE reference = $1`,
		reference, status, externalRef, paidAt,
	)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

func (r *SettlementRepository) GetTierPricing(ctx context.Context, tierID string) (domain.TierPricing, error) {
	const query = `
SELECT t.id, t.event_id, e.organizer_id, t.price::TEXT, e.buyer_pays_fee
FROM tiers t JOIN events e ON e.id = t.event_id
WHERE t.id = $1`

	var tp domain.TierPricing
	var price string
	err := r.queryRow(ctx, query, tierID).
		Scan(&tp.TierID, &tp.EventID, &tp.OrganizerID, &price, &tp.BuyerPaysFee)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.TierPricing{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.TierPricing{}, domain.ErrTierNotFound
		}
		return domain.TierPricing{}, fmt.Errorf("get tier pricing: %w", err)
	}
	if tp.Price, err = decimal.NewFromString(price); err != nil {
		return domain.TierPricing{}, fmt.Errorf("parse tier price: %w", err)
	}
	return tp, nil
}

// ReserveSeat claims one seat with a conditional update. Zero rows affected
// means the tier is sold out (or gone); the caller's transaction aborts and
// no oversell is possible even when two settlements race for the last seat.
func (r *SettlementRepository) ReserveSeat(ctx context.Context, tierID string) error {
	tag, err := r.exec(ctx,
		`UPDATE tiers SET sold = sold + 1 WHERE id = $1 AND sold < capacity`,
		tierID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("reserve seat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tiers WHERE id = $1)`, tierID).Scan(&exists); err != nil {
			return fmt.Errorf("check tier: %w", err)
		}
		if !exists {
			return domain.ErrTierNotFound
		}
		return domain.ErrSoldOut
	}
	return nil
}

func (r *SettlementRepository) CreateTicket(ctx context.Context, t domain.Ticket) error {
	const stmt = `
INSERT INTO tickets (id, tier_id, event_id, organizer_id, payment_reference, attendee_email, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.exec(ctx, stmt,
		t.ID, t.TierID, t.EventID, t.OrganizerID, t.PaymentReference, t.AttendeeEmail, t.Status, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// ListPendingReferences feeds the bulk re-verification sweep.
func (r *SettlementRepository) ListPendingReferences(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, `SELECT reference FROM payments WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan payment reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate payments: %w", rows.Err())
	}
	return refs, nil
}

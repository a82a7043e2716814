package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
)

// WithdrawalRepository extends the ledger store with the withdrawal state
// machine. Single-flight per organizer is enforced by a partial unique index
// on in-flight statuses, not by an application-side check.
type WithdrawalRepository struct {
	*LedgerRepository
}

func NewWithdrawalRepository(pool *pgxpool.Pool) *WithdrawalRepository {
	return &WithdrawalRepository{LedgerRepository: NewLedgerRepository(pool)}
}

// DestinationFor reads the organizer's payout bank details. Missing details
// come back as empty fields; the service decides whether that blocks the
// withdrawal.
func (r *WithdrawalRepository) DestinationFor(ctx context.Context, organizerID string) (gateway.Destination, error) {
	var dest gateway.Destination
	err := r.queryRow(ctx,
		`SELECT COALESCE(bank_code, ''), COALESCE(bank_account_number, ''), COALESCE(bank_account_name, '')
		 FROM organizers WHERE id = $1`,
		organizerID,
	).Scan(&dest.BankCode, &dest.AccountNumber, &dest.AccountName)
	if err != nil {
		if isInvalidUUID(err) {
			return gateway.Destination{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return gateway.Destination{}, domain.ErrAccountNotFound
		}
		return gateway.Destination{}, fmt.Errorf("organizer bank details: %w", err)
	}
	return dest, nil
}

func (r *WithdrawalRepository) CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	const stmt = `
INSERT INTO withdrawals (id, organizer_id, amount, status, otp_hash, otp_expires_at, otp_attempts, created_at, updated_at)
VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8, $8)`

	_, err := r.exec(ctx, stmt,
		w.ID, w.OrganizerID, w.Amount.String(), w.Status, w.OTPHash, w.OTPExpiresAt, w.OTPAttempts, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWithdrawalInFlight
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create withdrawal: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) GetWithdrawalForUpdate(ctx context.Context, id string) (domain.Withdrawal, error) {
	const query = `
SELECT id, organizer_id, amount::TEXT, status, otp_hash, otp_expires_at, otp_attempts,
       COALESCE(external_transfer_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
FROM withdrawals WHERE id = $1 FOR UPDATE`
	return r.scanWithdrawal(r.queryRow(ctx, query, id))
}

func (r *WithdrawalRepository) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	const query = `
SELECT id, organizer_id, amount::TEXT, status, otp_hash, otp_expires_at, otp_attempts,
       COALESCE(external_transfer_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
FROM withdrawals WHERE id = $1`
	return r.scanWithdrawal(r.queryRow(ctx, query, id))
}

// GetWithdrawalByTransferRef resolves a provider transfer reference back to
// the withdrawal it belongs to. Transfer webhooks only carry that reference.
func (r *WithdrawalRepository) GetWithdrawalByTransferRef(ctx context.Context, ref string) (domain.Withdrawal, error) {
	const query = `
SELECT id, organizer_id, amount::TEXT, status, otp_hash, otp_expires_at, otp_attempts,
       COALESCE(external_transfer_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
FROM withdrawals WHERE external_transfer_ref = $1`
	return r.scanWithdrawal(r.queryRow(ctx, query, ref))
}

func (r *WithdrawalRepository) scanWithdrawal(row pgx.Row) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	var amount string
	err := row.Scan(&w.ID, &w.OrganizerID, &amount, &w.Status, &w.OTPHash, &w.OTPExpiresAt,
		&w.OTPAttempts, &w.ExternalTransferRef, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Withdrawal{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Withdrawal{}, domain.ErrWithdrawalNotFound
		}
		return domain.Withdrawal{}, fmt.Errorf("get withdrawal: %w", err)
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("parse withdrawal amount: %w", err)
	}
	return w, nil
}

func (r *WithdrawalRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.queryRow(ctx,
		`UPDATE withdrawals SET otp_attempts = otp_attempts + 1, updated_at = NOW()
		 WHERE id = $1 RETURNING otp_attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrWithdrawalNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// SetProcessing transitions pending -> processing with a status guard so a
// second concurrent verification cannot also hand the withdrawal off.
func (r *WithdrawalRepository) SetProcessing(ctx context.Context, id string) error {
	tag, err := r.exec(ctx,
		`UPDATE withdrawals SET status = 'processing', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWithdrawalNotPending
	}
	return nil
}

func (r *WithdrawalRepository) SetTransferRef(ctx context.Context, id, transferRef string) error {
	_, err := r.exec(ctx,
		`UPDATE withdrawals SET external_transfer_ref = $2, updated_at = NOW() WHERE id = $1`,
		id, transferRef,
	)
	if err != nil {
		return fmt.Errorf("set transfer ref: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) MarkCompleted(ctx context.Context, id string) error {
	tag, err := r.exec(ctx,
		`UPDATE withdrawals SET status = 'completed', updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWithdrawalNotFound
	}
	return nil
}

func (r *WithdrawalRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.exec(ctx,
		`UPDATE withdrawals SET status = 'failed', failure_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

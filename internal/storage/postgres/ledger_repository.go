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

// LedgerRepository owns the append-only ledger and the balance accounts.
// Every write method must run inside a transaction started via WithTx so the
// entry and the balance mutation it justifies commit together.
type LedgerRepository struct {
	querier
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{querier{pool: pool}}
}

func (r *LedgerRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// AppendEntry inserts a ledger entry after checking the dedup keys:
// (organizer, external_ref) when an external reference is present, otherwise
// (organizer, ticket, type) when a ticket is attached. Withdrawal entries
// carry neither and are guarded by the withdrawal state machine instead.
func (r *LedgerRepository) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.ExternalRef != "" {
		var exists bool
		err := r.queryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE organizer_id = $1 AND external_ref = $2)`,
			entry.OrganizerID, entry.ExternalRef,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check external ref: %w", err)
		}
		if exists {
			return domain.ErrDuplicateEntry
		}
	} else if entry.TicketID != "" {
		var exists bool
		err := r.queryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE organizer_id = $1 AND ticket_id = $2 AND entry_type = $3)`,
			entry.OrganizerID, entry.TicketID, entry.Type,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check ticket entry: %w", err)
		}
		if exists {
			return domain.ErrDuplicateEntry
		}
	}

	const stmt = `
INSERT INTO ledger_entries
	(id, organizer_id, entry_type, credit, debit, net_amount, ticket_id, withdrawal_id,
	 external_ref, value_date, pending_after, available_after, created_at)
VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, NULLIF($7, ''), NULLIF($8, ''),
	NULLIF($9, ''), $10, $11::NUMERIC, $12::NUMERIC, $13)`

	_, err := r.exec(ctx, stmt,
		entry.ID,
		entry.OrganizerID,
		entry.Type,
		entry.Credit.String(),
		entry.Debit.String(),
		entry.NetAmount.String(),
		entry.TicketID,
		entry.WithdrawalID,
		entry.ExternalRef,
		entry.ValueDate,
		entry.PendingAfter.String(),
		entry.AvailableAfter.String(),
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEntry
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// lockAccount ensures the organizer's balance row exists and locks it for
// the rest of the transaction. Accounts are created lazily on first touch.
func (r *LedgerRepository) lockAccount(ctx context.Context, organizerID string) (domain.BalanceAccount, error) {
	_, err := r.exec(ctx,
		`INSERT INTO balance_accounts (organizer_id, pending, available, withdrawn, updated_at)
		 VALUES ($1, 0, 0, 0, NOW()) ON CONFLICT (organizer_id) DO NOTHING`,
		organizerID,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.BalanceAccount{}, domain.ErrInvalidID
		}
		return domain.BalanceAccount{}, fmt.Errorf("ensure balance account: %w", err)
	}

	return r.scanAccount(r.queryRow(ctx,
		`SELECT organizer_id, pending::TEXT, available::TEXT, withdrawn::TEXT, updated_at
		 FROM balance_accounts WHERE organizer_id = $1 FOR UPDATE`,
		organizerID,
	))
}

func (r *LedgerRepository) scanAccount(row pgx.Row) (domain.BalanceAccount, error) {
	var acc domain.BalanceAccount
	var pending, available, withdrawn string
	if err := row.Scan(&acc.OrganizerID, &pending, &available, &withdrawn, &acc.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.BalanceAccount{}, domain.ErrAccountNotFound
		}
		if isInvalidUUID(err) {
			return domain.BalanceAccount{}, domain.ErrInvalidID
		}
		return domain.BalanceAccount{}, fmt.Errorf("scan balance account: %w", err)
	}
	var err error
	if acc.Pending, err = decimal.NewFromString(pending); err != nil {
		return domain.BalanceAccount{}, fmt.Errorf("parse pending: %w", err)
	}
	if acc.Available, err = decimal.NewFromString(available); err != nil {
		return domain.BalanceAccount{}, fmt.Errorf("parse available: %w", err)
	}
	if acc.Withdrawn, err = decimal.NewFromString(withdrawn); err != nil {
		return domain.BalanceAccount{}, fmt.Errorf("parse withdrawn: %w", err)
	}
	return acc, nil
}

func (r *LedgerRepository) storeBuckets(ctx context.Context, acc domain.BalanceAccount) error {
	_, err := r.exec(ctx,
		`UPDATE balance_accounts
		 SET pending = $2::NUMERIC, available = $3::NUMERIC, withdrawn = $4::NUMERIC, updated_at = NOW()
		 WHERE organizer_id = $1`,
		acc.OrganizerID, acc.Pending.String(), acc.Available.String(), acc.Withdrawn.String(),
	)
	if err != nil {
		return fmt.Errorf("update balance account: %w", err)
	}
	return nil
}

// CreditPending adds a sale credit to the pending bucket and returns the
// post-mutation account.
func (r *LedgerRepository) CreditPending(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	acc.Pending = acc.Pending.Add(amount)
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// DebitAvailable removes funds from the available bucket. The sufficiency
// check happens here, under the row lock, so concurrent debits cannot both
// pass against a stale read.
func (r *LedgerRepository) DebitAvailable(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	if amount.GreaterThan(acc.Available) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	acc.Available = acc.Available.Sub(amount)
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// CreditAvailable restores funds to the available bucket. Used by the
// withdrawal compensation path when a transfer fails after the debit.
func (r *LedgerRepository) CreditAvailable(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	acc.Available = acc.Available.Add(amount)
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// DebitPendingFirst removes a refund or chargeback amount, draining pending
// before touching available. Fails when the two buckets together cannot
// cover the amount; buckets never go negative.
func (r *LedgerRepository) DebitPendingFirst(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	if amount.GreaterThan(acc.Pending.Add(acc.Available)) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	fromPending := decimal.Min(amount, acc.Pending)
	acc.Pending = acc.Pending.Sub(fromPending)
	acc.Available = acc.Available.Sub(amount.Sub(fromPending))
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// Release moves matured funds from pending to available.
func (r *LedgerRepository) Release(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	if amount.GreaterThan(acc.Pending) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	acc.Pending = acc.Pending.Sub(amount)
	acc.Available = acc.Available.Add(amount)
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// MarkWithdrawn records a confirmed payout in the withdrawn bucket. The
// available debit happened when the transfer was accepted.
func (r *LedgerRepository) MarkWithdrawn(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc, err := r.lockAccount(ctx, organizerID)
	if err != nil {
		return domain.BalanceAccount{}, err
	}
	acc.Withdrawn = acc.Withdrawn.Add(amount)
	if err := r.storeBuckets(ctx, acc); err != nil {
		return domain.BalanceAccount{}, err
	}
	return acc, nil
}

// LockBalance locks the organizer's account for the rest of the transaction
// and returns it. The maturity sweep takes this lock before computing sums so
// concurrent settlements cannot shift the numbers mid-recomputation.
func (r *LedgerRepository) LockBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error) {
	return r.lockAccount(ctx, organizerID)
}

// HasWithdrawalDebit reports whether the available-bucket debit for a
// withdrawal has been posted; the compensation path uses this to decide
// whether a restore is owed.
func (r *LedgerRepository) HasWithdrawalDebit(ctx context.Context, withdrawalID string) (bool, error) {
	var exists bool
	err := r.queryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE withdrawal_id = $1 AND debit > 0)`,
		withdrawalID,
	).Scan(&exists)
	if err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("check withdrawal debit: %w", err)
	}
	return exists, nil
}

// GetBalance returns the organizer's account, zero-valued when no sale has
// created one yet.
func (r *LedgerRepository) GetBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error) {
	acc, err := r.scanAccount(r.queryRow(ctx,
		`SELECT organizer_id, pending::TEXT, available::TEXT, withdrawn::TEXT, updated_at
		 FROM balance_accounts WHERE organizer_id = $1`,
		organizerID,
	))
	if err == domain.ErrAccountNotFound {
		return domain.BalanceAccount{
			OrganizerID: organizerID,
			Pending:     decimal.Zero,
			Available:   decimal.Zero,
			Withdrawn:   decimal.Zero,
		}, nil
	}
	return acc, err
}

// OrganizersWithPending lists organizers the maturity sweep should visit.
func (r *LedgerRepository) OrganizersWithPending(ctx context.Context) ([]string, error) {
	rows, err := r.query(ctx, `SELECT organizer_id FROM balance_accounts WHERE pending > 0 ORDER BY organizer_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending organizers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan organizer id: %w", err)
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate organizers: %w", rows.Err())
	}
	return ids, nil
}

// FirstPaidSaleDate returns the value date of the organizer's earliest sale
// with a positive net amount, or nil when only free tickets have settled.
func (r *LedgerRepository) FirstPaidSaleDate(ctx context.Context, organizerID string) (*time.Time, error) {
	var t time.Time
	err := r.queryRow(ctx,
		`SELECT value_date FROM ledger_entries
		 WHERE organizer_id = $1 AND entry_type = 'sale' AND net_amount > 0
		 ORDER BY value_date ASC LIMIT 1`,
		organizerID,
	).Scan(&t)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("first paid sale: %w", err)
	}
	return &t, nil
}

// MaturedSales sums sale credits whose value date is at or before the cutoff.
func (r *LedgerRepository) MaturedSales(ctx context.Context, organizerID string, cutoff time.Time) (decimal.Decimal, error) {
	return r.sumQuery(ctx,
		`SELECT COALESCE(SUM(net_amount), 0)::TEXT FROM ledger_entries
		 WHERE organizer_id = $1 AND entry_type = 'sale' AND value_date <= $2`,
		organizerID, cutoff)
}

// ReversalTotal sums refund and chargeback debits as a positive amount.
func (r *LedgerRepository) ReversalTotal(ctx context.Context, organizerID string) (decimal.Decimal, error) {
	total, err := r.sumQuery(ctx,
		`SELECT COALESCE(SUM(net_amount), 0)::TEXT FROM ledger_entries
		 WHERE organizer_id = $1 AND entry_type IN ('refund', 'chargeback')`,
		organizerID)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Neg(), nil
}

// ListEntries returns the organizer's ledger in creation order.
func (r *LedgerRepository) ListEntries(ctx context.Context, organizerID string) ([]domain.LedgerEntry, error) {
	rows, err := r.query(ctx,
		`SELECT id, organizer_id, entry_type, credit::TEXT, debit::TEXT, net_amount::TEXT,
		        COALESCE(ticket_id::TEXT, ''), COALESCE(withdrawal_id::TEXT, ''), COALESCE(external_ref, ''),
		        value_date, pending_after::TEXT, available_after::TEXT, created_at
		 FROM ledger_entries WHERE organizer_id = $1 ORDER BY created_at ASC, id ASC`,
		organizerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var credit, debit, net, pendingAfter, availableAfter string
		if err := rows.Scan(&e.ID, &e.OrganizerID, &e.Type, &credit, &debit, &net,
			&e.TicketID, &e.WithdrawalID, &e.ExternalRef,
			&e.ValueDate, &pendingAfter, &availableAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Credit, err = decimal.NewFromString(credit); err != nil {
			return nil, err
		}
		if e.Debit, err = decimal.NewFromString(debit); err != nil {
			return nil, err
		}
		if e.NetAmount, err = decimal.NewFromString(net); err != nil {
			return nil, err
		}
		if e.PendingAfter, err = decimal.NewFromString(pendingAfter); err != nil {
			return nil, err
		}
		if e.AvailableAfter, err = decimal.NewFromString(availableAfter); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", rows.Err())
	}
	return entries, nil
}

func (r *LedgerRepository) sumQuery(ctx context.Context, sql string, args ...any) (decimal.Decimal, error) {
	var raw string
	if err := r.queryRow(ctx, sql, args...).Scan(&raw); err != nil {
		if isInvalidUUID(err) {
			return decimal.Zero, domain.ErrInvalidID
		}
		return decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse sum: %w", err)
	}
	return total, nil
}

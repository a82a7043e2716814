package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceAccount holds an organizer's funds in three buckets of increasing
// liquidity. All fields are non-negative; every mutation happens in the same
// transaction as the ledger entry that justifies it.
//
// Conservation: Pending+Available always equals the sum of net ledger amounts
// for the organizer, and Withdrawn equals the sum of withdrawal debits.
type BalanceAccount struct {
	OrganizerID string
	Pending     decimal.Decimal
	Available   decimal.Decimal
	Withdrawn   decimal.Decimal
	UpdatedAt   time.Time
}

// Spendable returns the funds not yet paid out.
func (b BalanceAccount) Spendable() decimal.Decimal {
	return b.Pending.Add(b.Available)
}

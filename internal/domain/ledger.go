package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntrySale       EntryType = "sale"
	EntryRefund     EntryType = "refund"
	EntryWithdrawal EntryType = "withdrawal"
	EntryChargeback EntryType = "chargeback"
)

// LedgerEntry is an immutable record of a single balance change. At most one
// of Credit and Debit is non-zero; NetAmount is Credit minus Debit. Entries
// are never updated or deleted; corrections are posted as new entries.
type LedgerEntry struct {
	ID             string
	OrganizerID    string
	Type           EntryType
	Credit         decimal.Decimal
	Debit          decimal.Decimal
	NetAmount      decimal.Decimal
	TicketID       string
	WithdrawalID   string
	ExternalRef    string
	ValueDate      time.Time
	PendingAfter   decimal.Decimal
	AvailableAfter decimal.Decimal
	CreatedAt      time.Time
}

// NewCreditEntry builds a credit-side entry; the post-mutation balances are
// filled in by the store inside the same transaction as the balance change.
func NewCreditEntry(id, organizerID string, typ EntryType, amount decimal.Decimal, valueDate time.Time) LedgerEntry {
	return LedgerEntry{
		ID:          id,
		OrganizerID: organizerID,
		Type:        typ,
		Credit:      amount,
		NetAmount:   amount,
		ValueDate:   valueDate,
	}
}

// NewDebitEntry builds a debit-side entry.
func NewDebitEntry(id, organizerID string, typ EntryType, amount decimal.Decimal, valueDate time.Time) LedgerEntry {
	return LedgerEntry{
		ID:          id,
		OrganizerID: organizerID,
		Type:        typ,
		Debit:       amount,
		NetAmount:   amount.Neg(),
		ValueDate:   valueDate,
	}
}

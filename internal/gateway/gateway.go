// Package gateway defines the payment-provider port consumed by settlement
// and withdrawals. The concrete client lives with the provider integration;
// this service only depends on the interface.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "success"
	VerificationPending VerificationStatus = "pending"
	VerificationFailed  VerificationStatus = "failed"
)

// Verification is the provider's view of a charge.
type Verification struct {
	Status      VerificationStatus
	AmountPaid  decimal.Decimal
	PaidAt      time.Time
	ExternalRef string
}

type TransferStatus string

const (
	TransferSuccess TransferStatus = "success"
	TransferPending TransferStatus = "pending"
	TransferFailed  TransferStatus = "failed"
)

// TransferResult is the provider's response to a payout request.
type TransferResult struct {
	Ref    string
	Status TransferStatus
}

// Destination identifies the organizer's bank account for payouts.
type Destination struct {
	BankCode      string
	AccountNumber string
	AccountName   string
}

// PaymentGateway is the opaque provider port.
type PaymentGateway interface {
	// VerifyTransaction fetches the provider's record for an internal
	// payment reference.
	VerifyTransaction(ctx context.Context, reference string) (Verification, error)

	// InitiateTransfer requests a payout. The caller must only debit
	// balances after this returns without error.
	InitiateTransfer(ctx context.Context, amount decimal.Decimal, dest Destination) (TransferResult, error)
}

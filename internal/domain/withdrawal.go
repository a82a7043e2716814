package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// Withdrawal is an OTP-gated payout request. pending -> processing on OTP
// verification, processing -> completed on confirmed transfer, processing ->
// failed (with balance restoration) when the transfer is rejected.
type Withdrawal struct {
	ID                  string
	OrganizerID         string
	Amount              decimal.Decimal
	Status              WithdrawalStatus
	OTPHash             string
	OTPExpiresAt        time.Time
	OTPAttempts         int
	ExternalTransferRef string
	FailureReason       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

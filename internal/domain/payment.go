package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is created by the checkout flow and consumed by settlement.
// Pending is the only retryable state; success and failed are terminal.
type Payment struct {
	Reference     string
	ExternalRef   string
	TierID        string
	AttendeeEmail string
	Amount        decimal.Decimal
	Status        PaymentStatus
	CreatedAt     time.Time
	PaidAt        *time.Time
}

package domain

import "errors"

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentNotPending    = errors.New("payment already settled or failed")
	ErrAmountMismatch       = errors.New("paid amount does not match expected amount")
	ErrSoldOut              = errors.New("tier sold out")
	ErrDuplicateEntry       = errors.New("duplicate ledger entry")
	ErrInsufficientFunds    = errors.New("insufficient available balance")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrAlreadyCheckedIn     = errors.New("ticket already checked in")
	ErrTicketNotRedeemable  = errors.New("ticket not redeemable")
	ErrTicketNotRefundable  = errors.New("ticket not refundable")
	ErrTierNotFound         = errors.New("tier not found")
	ErrAccountNotFound      = errors.New("balance account not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrWithdrawalInFlight   = errors.New("another withdrawal is in progress")
	ErrWithdrawalNotPending = errors.New("withdrawal is not awaiting verification")
	ErrBelowMinimumAmount   = errors.New("amount below withdrawal minimum")
	ErrBankDetailsMissing   = errors.New("organizer bank details missing")
	ErrFundsNotMatured      = errors.New("funds have not completed the settlement delay")
	ErrInvalidOTP           = errors.New("invalid otp code")
	ErrOTPExpired           = errors.New("otp code expired")
	ErrOTPAttemptsExceeded  = errors.New("otp attempts exceeded")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidID            = errors.New("invalid id")
)

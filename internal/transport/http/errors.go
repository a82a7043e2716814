package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

const (
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeInvalidAmount       = "invalid_amount"
	codeInvalidSignature    = "invalid_signature"
	codeDuplicate           = "duplicate"
	codeAmountMismatch      = "amount_mismatch"
	codeSoldOut             = "sold_out"
	codePaymentNotPending   = "payment_not_pending"
	codeAlreadyCheckedIn    = "already_checked_in"
	codeNotRedeemable       = "ticket_not_redeemable"
	codeNotRefundable       = "ticket_not_refundable"
	codeInsufficientFunds   = "insufficient_funds"
	codeBelowMinimum        = "below_minimum_amount"
	codeBankDetailsMissing  = "bank_details_missing"
	codeFundsNotMatured     = "funds_not_matured"
	codeWithdrawalInFlight  = "withdrawal_in_flight"
	codeWithdrawalNotActive = "withdrawal_not_pending"
	codeInvalidOTP          = "invalid_otp"
	codeOTPExpired          = "otp_expired"
	codeOTPAttemptsExceeded = "otp_attempts_exceeded"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain sentinels onto the error envelope. Unmapped
// errors are reported as opaque internal errors.
func writeDomainError(w http.ResponseWriter, err error) {
	type mapping struct {
		status int
		code   string
	}
	known := []struct {
		err error
		mapping
	}{
		{domain.ErrInvalidID, mapping{http.StatusBadRequest, codeInvalidID}},
		{domain.ErrInvalidAmount, mapping{http.StatusBadRequest, codeInvalidAmount}},
		{domain.ErrPaymentNotFound, mapping{http.StatusNotFound, codeNotFound}},
		{domain.ErrTicketNotFound, mapping{http.StatusNotFound, codeNotFound}},
		{domain.ErrTierNotFound, mapping{http.StatusNotFound, codeNotFound}},
		{domain.ErrAccountNotFound, mapping{http.StatusNotFound, codeNotFound}},
		{domain.ErrWithdrawalNotFound, mapping{http.StatusNotFound, codeNotFound}},
		{domain.ErrPaymentNotPending, mapping{http.StatusConflict, codePaymentNotPending}},
		{domain.ErrDuplicateEntry, mapping{http.StatusConflict, codeDuplicate}},
		{domain.ErrAmountMismatch, mapping{http.StatusConflict, codeAmountMismatch}},
		{domain.ErrSoldOut, mapping{http.StatusConflict, codeSoldOut}},
		{domain.ErrAlreadyCheckedIn, mapping{http.StatusConflict, codeAlreadyCheckedIn}},
		{domain.ErrTicketNotRedeemable, mapping{http.StatusConflict, codeNotRedeemable}},
		{domain.ErrTicketNotRefundable, mapping{http.StatusConflict, codeNotRefundable}},
		{domain.ErrInsufficientFunds, mapping{http.StatusUnprocessableEntity, codeInsufficientFunds}},
		{domain.ErrBelowMinimumAmount, mapping{http.StatusUnprocessableEntity, codeBelowMinimum}},
		{domain.ErrBankDetailsMissing, mapping{http.StatusUnprocessableEntity, codeBankDetailsMissing}},
		{domain.ErrFundsNotMatured, mapping{http.StatusUnprocessableEntity, codeFundsNotMatured}},
		{domain.ErrWithdrawalInFlight, mapping{http.StatusConflict, codeWithdrawalInFlight}},
		{domain.ErrWithdrawalNotPending, mapping{http.StatusConflict, codeWithdrawalNotActive}},
		{domain.ErrInvalidOTP, mapping{http.StatusUnauthorized, codeInvalidOTP}},
		{domain.ErrOTPExpired, mapping{http.StatusGone, codeOTPExpired}},
		{domain.ErrOTPAttemptsExceeded, mapping{http.StatusTooManyRequests, codeOTPAttemptsExceeded}},
	}
	for _, k := range known {
		if errors.Is(err, k.err) {
			writeError(w, k.status, k.code, k.err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

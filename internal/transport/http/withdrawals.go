package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// WithdrawalFlow is the OTP-gated payout surface.
type WithdrawalFlow interface {
	Request(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.Withdrawal, error)
	VerifyOTP(ctx context.Context, withdrawalID, code string) (domain.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error)
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type withdrawalResponse struct {
	ID            string          `json:"id"`
	OrganizerID   string          `json:"organizer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toWithdrawalResponse(w domain.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:            w.ID,
		OrganizerID:   w.OrganizerID,
		Amount:        w.Amount,
		Status:        string(w.Status),
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// HandleRequestWithdrawal opens a withdrawal and sends the OTP out of band.
// The OTP never appears in the response.
func HandleRequestWithdrawal(svc WithdrawalFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req withdrawalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		withdrawal, err := svc.Request(r.Context(), chi.URLParam(r, "organizerID"), req.Amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toWithdrawalResponse(withdrawal))
	}
}

type verifyOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// HandleVerifyWithdrawalOTP confirms a withdrawal with the one-time code and
// starts the transfer. The transfer itself completes asynchronously; the
// response reflects the processing state.
func HandleVerifyWithdrawalOTP(svc WithdrawalFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyOTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "code must be 6 digits")
			return
		}

		withdrawal, err := svc.VerifyOTP(r.Context(), chi.URLParam(r, "withdrawalID"), req.Code)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWithdrawalResponse(withdrawal))
	}
}

// HandleGetWithdrawal reports the current state of one withdrawal.
func HandleGetWithdrawal(svc WithdrawalFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withdrawal, err := svc.GetWithdrawal(r.Context(), chi.URLParam(r, "withdrawalID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWithdrawalResponse(withdrawal))
	}
}

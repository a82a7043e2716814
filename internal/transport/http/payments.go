package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hdticketdesk/platform/services/settlement/internal/app"
)

// PaymentVerifier re-checks payments against the provider on demand.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string) (app.SettleResult, error)
	VerifyPendingPayments(ctx context.Context) (app.VerifySweepReport, error)
}

type verifyResponse struct {
	Outcome  string `json:"outcome"`
	TicketID string `json:"ticket_id,omitempty"`
}

// HandleVerifyPayment forces a provider verification for one payment, the
// fallback when a webhook was lost.
func HandleVerifyPayment(svc PaymentVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := chi.URLParam(r, "reference")

		res, err := svc.VerifyPayment(r.Context(), reference)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verifyResponse{
			Outcome:  string(res.Outcome),
			TicketID: res.Ticket.ID,
		})
	}
}

type verifySweepResponse struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// HandleVerifyPendingPayments runs the bulk reconciliation pass over every
// pending payment.
func HandleVerifyPendingPayments(svc PaymentVerifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.VerifyPendingPayments(r.Context())
		if err != nil {
			logger.Error("verify pending sweep failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, codeInternalError, "verification sweep failed")
			return
		}
		writeJSON(w, http.StatusOK, verifySweepResponse{
			Checked: report.Checked,
			Settled: report.Settled,
			Failed:  report.Failed,
		})
	}
}

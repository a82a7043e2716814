package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hdticketdesk/platform/services/settlement/internal/app"
)

// ReversalPoster posts refund and chargeback entries.
type ReversalPoster interface {
	PostRefund(ctx context.Context, ticketID, externalRef string) (app.ReversalResult, error)
	PostChargeback(ctx context.Context, ticketID, externalRef string) (app.ReversalResult, error)
}

type reversalRequest struct {
	ExternalRef string `json:"external_ref"`
}

type reversalResponse struct {
	Outcome  string `json:"outcome"`
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// HandleRefund reverses a sale for an unused ticket.
func HandleRefund(svc ReversalPoster) http.HandlerFunc {
	return handleReversal(func(ctx context.Context, ticketID, ref string) (app.ReversalResult, error) {
		return svc.PostRefund(ctx, ticketID, ref)
	})
}

// HandleChargeback reverses a sale the provider has pulled back.
func HandleChargeback(svc ReversalPoster) http.HandlerFunc {
	return handleReversal(func(ctx context.Context, ticketID, ref string) (app.ReversalResult, error) {
		return svc.PostChargeback(ctx, ticketID, ref)
	})
}

func handleReversal(post func(ctx context.Context, ticketID, ref string) (app.ReversalResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reversalRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
		}

		res, err := post(r.Context(), chi.URLParam(r, "ticketID"), req.ExternalRef)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reversalResponse{
			Outcome:  string(res.Outcome),
			TicketID: res.Ticket.ID,
			Status:   string(res.Ticket.Status),
		})
	}
}

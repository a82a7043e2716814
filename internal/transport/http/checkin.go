package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// TicketRedeemer performs the atomic check-in transition.
type TicketRedeemer interface {
	CheckIn(ctx context.Context, ticketID, staffID string) (domain.Ticket, error)
}

type checkInRequest struct {
	StaffID string `json:"staff_id" validate:"required"`
}

type checkInResponse struct {
	TicketID    string     `json:"ticket_id"`
	Status      string     `json:"status"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy string     `json:"checked_in_by,omitempty"`
}

// HandleCheckIn redeems a ticket at the venue door. A losing concurrent
// attempt gets a conflict carrying the winner's identity and timestamp, so
// door staff can see who scanned first.
func HandleCheckIn(svc TicketRedeemer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "staff_id is required")
			return
		}

		ticket, err := svc.CheckIn(r.Context(), chi.URLParam(r, "ticketID"), req.StaffID)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyCheckedIn) {
				writeJSON(w, http.StatusConflict, conflictBody(ticket))
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, checkInResponse{
			TicketID:    ticket.ID,
			Status:      string(ticket.Status),
			CheckedInAt: ticket.CheckedInAt,
			CheckedInBy: ticket.CheckedInBy,
		})
	}
}

type checkInConflict struct {
	Error       string     `json:"error"`
	Code        string     `json:"code"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy string     `json:"checked_in_by,omitempty"`
}

func conflictBody(t domain.Ticket) checkInConflict {
	return checkInConflict{
		Error:       domain.ErrAlreadyCheckedIn.Error(),
		Code:        codeAlreadyCheckedIn,
		CheckedInAt: t.CheckedInAt,
		CheckedInBy: t.CheckedInBy,
	}
}

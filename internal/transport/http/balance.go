package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

// BalanceReader serves the organizer's balance, possibly through a cache.
type BalanceReader interface {
	GetBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error)
}

// LedgerLister serves the organizer's full ledger, always from the store.
type LedgerLister interface {
	ListEntries(ctx context.Context, organizerID string) ([]domain.LedgerEntry, error)
}

type balanceResponse struct {
	OrganizerID string          `json:"organizer_id"`
	Pending     decimal.Decimal `json:"pending"`
	Available   decimal.Decimal `json:"available"`
	Withdrawn   decimal.Decimal `json:"withdrawn"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// HandleGetBalance returns the three balance buckets for an organizer. An
// organizer with no settled sales yet reads as all zeros, not a 404.
func HandleGetBalance(reader BalanceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := reader.GetBalance(r.Context(), chi.URLParam(r, "organizerID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{
			OrganizerID: acc.OrganizerID,
			Pending:     acc.Pending,
			Available:   acc.Available,
			Withdrawn:   acc.Withdrawn,
			UpdatedAt:   acc.UpdatedAt,
		})
	}
}

type ledgerEntryResponse struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Credit         decimal.Decimal `json:"credit"`
	Debit          decimal.Decimal `json:"debit"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	TicketID       string          `json:"ticket_id,omitempty"`
	WithdrawalID   string          `json:"withdrawal_id,omitempty"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	ValueDate      time.Time       `json:"value_date"`
	PendingAfter   decimal.Decimal `json:"pending_after"`
	AvailableAfter decimal.Decimal `json:"available_after"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HandleListLedger returns the organizer's ledger in creation order.
func HandleListLedger(lister LedgerLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := lister.ListEntries(r.Context(), chi.URLParam(r, "organizerID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		out := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, ledgerEntryResponse{
				ID:             e.ID,
				Type:           string(e.Type),
				Credit:         e.Credit,
				Debit:          e.Debit,
				NetAmount:      e.NetAmount,
				TicketID:       e.TicketID,
				WithdrawalID:   e.WithdrawalID,
				ExternalRef:    e.ExternalRef,
				ValueDate:      e.ValueDate,
				PendingAfter:   e.PendingAfter,
				AvailableAfter: e.AvailableAfter,
				CreatedAt:      e.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": out})
	}
}

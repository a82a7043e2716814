package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/app"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
)

const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody bounds how much of a webhook payload is read before the
// signature check.
const maxWebhookBody = 1 << 20

// PaymentSettler is the minimal interface the webhook needs to settle a
// confirmed charge.
type PaymentSettler interface {
	SettlePayment(ctx context.Context, conf app.Confirmation) (app.SettleResult, error)
}

// TransferResolver finalizes payouts reported by transfer webhooks.
type TransferResolver interface {
	ConfirmTransferByRef(ctx context.Context, transferRef string) error
	FailTransferByRef(ctx context.Context, transferRef, reason string) error
}

type webhookEvent struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	Reference   string          `json:"reference"`
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      time.Time       `json:"paid_at"`
	TransferRef string          `json:"transfer_ref"`
	Reason      string          `json:"reason"`
}

// HandleProviderWebhook authenticates and dispatches provider events. The
// signature covers the raw body; unsigned or tampered payloads are rejected
// before any parsing. Events the service does not consume are acknowledged
// so the provider stops retrying them.
func HandleProviderWebhook(secret string, settler PaymentSettler, transfers TransferResolver, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "unreadable body")
			return
		}

		if !gateway.VerifySignature(secret, body, r.Header.Get(signatureHeader)) {
			metrics.WebhookRejections.Inc()
			writeError(w, http.StatusUnauthorized, codeInvalidSignature, "invalid signature")
			return
		}

		var event webhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "malformed event")
			return
		}

		switch event.Event {
		case "charge.success":
			res, err := settler.SettlePayment(r.Context(), app.Confirmation{
				Reference:   event.Data.Reference,
				ExternalRef: event.Data.ExternalRef,
				AmountPaid:  event.Data.Amount,
				PaidAt:      event.Data.PaidAt,
			})
			if err != nil && !errors.Is(err, domain.ErrSoldOut) {
				logger.Error("webhook settlement failed",
					slog.String("reference", event.Data.Reference), slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, codeInternalError, "settlement failed")
				return
			}
			// A sold-out settlement is acknowledged: redelivery cannot fix
			// it and the payment stays pending for manual review.
			writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})

		case "transfer.success":
			err := transfers.ConfirmTransferByRef(r.Context(), event.Data.TransferRef)
			ackTransferEvent(w, logger, "transfer.success", event.Data.TransferRef, err)

		case "transfer.failed", "transfer.reversed":
			err := transfers.FailTransferByRef(r.Context(), event.Data.TransferRef, event.Data.Reason)
			ackTransferEvent(w, logger, event.Event, event.Data.TransferRef, err)

		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		}
	}
}

// ackTransferEvent acknowledges transfer webhooks for withdrawals this
// service does not know, so the provider stops redelivering them, and asks
// for a retry only on genuine failures.
func ackTransferEvent(w http.ResponseWriter, logger *slog.Logger, event, ref string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, domain.ErrWithdrawalNotFound):
		logger.Warn("transfer event for unknown withdrawal",
			slog.String("event", event), slog.String("transfer_ref", ref))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		logger.Error("transfer event failed",
			slog.String("event", event), slog.String("transfer_ref", ref), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "transfer update failed")
	}
}

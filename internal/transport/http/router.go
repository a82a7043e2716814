package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
)

var validate = validator.New()

// MaturitySweeper triggers a full maturity pass on demand.
type MaturitySweeper interface {
	Run(ctx context.Context) error
}

// RouterConfig carries everything the HTTP surface depends on. Every service
// field is an interface, so tests wire in fakes.
type RouterConfig struct {
	WebhookSecret string
	CORSOrigins   []string

	Settler     PaymentSettler
	Verifier    PaymentVerifier
	Transfers   TransferResolver
	Withdrawals WithdrawalFlow
	Redeemer    TicketRedeemer
	Reversals   ReversalPoster
	Balances    BalanceReader
	Ledger      LedgerLister
	Sweeper     MaturitySweeper

	Logger *slog.Logger
}

// NewRouter assembles the full route table.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", signatureHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", HandleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/webhooks/provider", HandleProviderWebhook(cfg.WebhookSecret, cfg.Settler, cfg.Transfers, logger))

	r.Route("/payments", func(r chi.Router) {
		r.Post("/{reference}/verify", HandleVerifyPayment(cfg.Verifier))
	})

	r.Route("/organizers/{organizerID}", func(r chi.Router) {
		r.Get("/balance", HandleGetBalance(cfg.Balances))
		r.Get("/ledger", HandleListLedger(cfg.Ledger))
		r.Post("/withdrawals", HandleRequestWithdrawal(cfg.Withdrawals))
	})

	r.Route("/withdrawals/{withdrawalID}", func(r chi.Router) {
		r.Get("/", HandleGetWithdrawal(cfg.Withdrawals))
		r.Post("/verify", HandleVerifyWithdrawalOTP(cfg.Withdrawals))
	})

	r.Route("/tickets/{ticketID}", func(r chi.Router) {
		r.Post("/checkin", HandleCheckIn(cfg.Redeemer))
		r.Post("/refund", HandleRefund(cfg.Reversals))
		r.Post("/chargeback", HandleChargeback(cfg.Reversals))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/payments/verify-pending", HandleVerifyPendingPayments(cfg.Verifier, logger))
		r.Post("/sweep", HandleSweep(cfg.Sweeper, logger))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return r
}

// HandleSweep runs the maturity sweep across every organizer with pending
// funds. The scheduled ticker calls the same service method; this endpoint
// exists for operators who cannot wait for the next tick.
func HandleSweep(sweeper MaturitySweeper, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sweeper.Run(r.Context()); err != nil {
			logger.Error("manual sweep failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, codeInternalError, "sweep failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hdticketdesk/platform/services/settlement/internal/app"
	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/config"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
	"github.com/hdticketdesk/platform/services/settlement/internal/notify"
	"github.com/hdticketdesk/platform/services/settlement/internal/storage/postgres"
	"github.com/hdticketdesk/platform/services/settlement/internal/storage/rediscache"
	transporthttp "github.com/hdticketdesk/platform/services/settlement/internal/transport/http"
	"github.com/hdticketdesk/platform/services/settlement/migrations"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to db", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		logger.Error("db ping", slog.Any("error", err))
		os.Exit(1)
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	ledgerRepo := postgres.NewLedgerRepository(pool)
	settlementRepo := postgres.NewSettlementRepository(pool)
	withdrawalRepo := postgres.NewWithdrawalRepository(pool)
	refundRepo := postgres.NewRefundRepository(pool)
	ticketRepo := postgres.NewTicketRepository(pool)

	var balances transporthttp.BalanceReader = ledgerRepo
	var invalidator app.BalanceInvalidator
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("parse redis url", slog.Any("error", err))
			os.Exit(1)
		}
		cache := rediscache.NewBalanceCache(ledgerRepo, redis.NewClient(opts), cfg.BalanceCacheTTL)
		balances = cache
		invalidator = cache
	}

	provider := gateway.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderSecret)
	notifier := notify.NewLogNotifier(logger)
	clk := clock.NewSystem()

	maturitySvc := app.NewMaturityService(ledgerRepo, clk, cfg.MaturityDelay,
		app.WithMaturityLogger(logger),
		app.WithMaturityInvalidator(invalidator),
	)
	settlementSvc := app.NewSettlementService(settlementRepo, provider, notifier, maturitySvc, clk, cfg.PlatformFeePercent,
		app.WithSettlementLogger(logger),
		app.WithSettlementInvalidator(invalidator),
	)
	withdrawalSvc := app.NewWithdrawalService(withdrawalRepo, provider, withdrawalRepo, notifier, clk,
		app.WithdrawalConfig{
			MinAmount:     cfg.MinWithdrawal,
			MaturityDelay: cfg.MaturityDelay,
			OTPTTL:        cfg.OTPTTL,
			MaxAttempts:   cfg.OTPMaxAttempts,
		},
		app.WithWithdrawalLogger(logger),
		app.WithWithdrawalInvalidator(invalidator),
	)
	refundSvc := app.NewRefundService(refundRepo, clk,
		app.WithRefundLogger(logger),
		app.WithRefundInvalidator(invalidator),
	)
	checkInSvc := app.NewCheckInService(ticketRepo, clk)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		WebhookSecret: cfg.WebhookSecret,
		CORSOrigins:   cfg.CORSOrigins,
		Settler:       settlementSvc,
		Verifier:      settlementSvc,
		Transfers:     withdrawalSvc,
		Withdrawals:   withdrawalSvc,
		Redeemer:      checkInSvc,
		Reversals:     refundSvc,
		Balances:      balances,
		Ledger:        ledgerRepo,
		Sweeper:       maturitySvc,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSweepLoop(rootCtx, maturitySvc, cfg.SweepInterval, logger)

	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}

// runSweepLoop runs the maturity sweep on a fixed interval until the context
// is cancelled. Individual failures are logged inside the service; the loop
// itself only stops on shutdown.
func runSweepLoop(ctx context.Context, sweeper *app.MaturityService, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduled sweep failed", slog.Any("error", err))
			}
		}
	}
}

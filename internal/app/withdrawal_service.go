package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
	"github.com/hdticketdesk/platform/services/settlement/internal/notify"
)

type WithdrawalRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateWithdrawal(ctx context.Context, w domain.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error)
	GetWithdrawalForUpdate(ctx context.Context, id string) (domain.Withdrawal, error)
	GetWithdrawalByTransferRef(ctx context.Context, ref string) (domain.Withdrawal, error)
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)
	SetProcessing(ctx context.Context, id string) error
	SetTransferRef(ctx context.Context, id, transferRef string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	LockBalance(ctx context.Context, organizerID string) (domain.BalanceAccount, error)
	DebitAvailable(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
	CreditAvailable(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
	MarkWithdrawn(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error)
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
	HasWithdrawalDebit(ctx context.Context, withdrawalID string) (bool, error)
	FirstPaidSaleDate(ctx context.Context, organizerID string) (*time.Time, error)
}

// DestinationResolver looks up the organizer's payout bank details, which
// are owned by the CRUD service.
type DestinationResolver interface {
	DestinationFor(ctx context.Context, organizerID string) (gateway.Destination, error)
}

// WithdrawalService drives the OTP-gated payout state machine:
// pending -> processing -> completed | failed. The available-bucket debit
// happens only after the transfer port accepts the payout, and is compensated
// if the transfer subsequently fails.
type WithdrawalService struct {
	repo         WithdrawalRepository
	gateway      gateway.PaymentGateway
	destinations DestinationResolver
	notifier     notify.Notifier
	invalidator  BalanceInvalidator
	clock        clock.Clock

	minAmount     decimal.Decimal
	maturityDelay time.Duration
	otpTTL        time.Duration
	maxAttempts   int

	logger *slog.Logger

	// transferDone signals test harnesses when an async transfer finishes.
	transferDone chan string
}

type WithdrawalConfig struct {
	MinAmount     decimal.Decimal
	MaturityDelay time.Duration
	OTPTTL        time.Duration
	MaxAttempts   int
}

func NewWithdrawalService(
	repo WithdrawalRepository,
	gw gateway.PaymentGateway,
	destinations DestinationResolver,
	notifier notify.Notifier,
	clk clock.Clock,
	cfg WithdrawalConfig,
	opts ...WithdrawalOption,
) *WithdrawalService {
	svc := &WithdrawalService{
		repo:          repo,
		gateway:       gw,
		destinations:  destinations,
		notifier:      notifier,
		invalidator:   noopInvalidator{},
		clock:         clk,
		minAmount:     cfg.MinAmount,
		maturityDelay: cfg.MaturityDelay,
		otpTTL:        cfg.OTPTTL,
		maxAttempts:   cfg.MaxAttempts,
		logger:        slog.Default(),
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = 5
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type WithdrawalOption func(*WithdrawalService)

func WithWithdrawalLogger(logger *slog.Logger) WithdrawalOption {
	return func(s *WithdrawalService) { s.logger = logger }
}

func WithWithdrawalInvalidator(inv BalanceInvalidator) WithdrawalOption {
	return func(s *WithdrawalService) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// withTransferSignal is used by tests to observe async transfer completion.
func withTransferSignal(ch chan string) WithdrawalOption {
	return func(s *WithdrawalService) { s.transferDone = ch }
}

// Request opens a withdrawal: validates bank details, the minimum amount,
// the maturity rule, and a preliminary funds check, then issues an OTP.
// Single-flight per organizer is enforced by the store.
func (s *WithdrawalService) Request(ctx context.Context, organizerID string, amount decimal.Decimal) (domain.Withdrawal, error) {
	if !amount.IsPositive() {
		return domain.Withdrawal{}, domain.ErrInvalidAmount
	}
	if amount.LessThan(s.minAmount) {
		return domain.Withdrawal{}, domain.ErrBelowMinimumAmount
	}

	dest, err := s.destinations.DestinationFor(ctx, organizerID)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if dest.BankCode == "" || dest.AccountNumber == "" {
		return domain.Withdrawal{}, domain.ErrBankDetailsMissing
	}

	code, hash, err := newOTP()
	if err != nil {
		return domain.Withdrawal{}, err
	}

	now := s.clock.Now()
	withdrawal := domain.Withdrawal{
		ID:           uuid.NewString(),
		OrganizerID:  organizerID,
		Amount:       amount,
		Status:       domain.WithdrawalPending,
		OTPHash:      hash,
		OTPExpiresAt: now.Add(s.otpTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		acc, err := s.repo.LockBalance(txCtx, organizerID)
		if err != nil {
			return err
		}

		firstPaid, err := s.repo.FirstPaidSaleDate(txCtx, organizerID)
		if err != nil {
			return err
		}
		if firstPaid == nil || now.Sub(*firstPaid) < s.maturityDelay {
			return domain.ErrFundsNotMatured
		}

		// Preliminary check only; the authoritative check re-runs under the
		// row lock when the debit is applied.
		if amount.GreaterThan(acc.Available) {
			return domain.ErrInsufficientFunds
		}

		return s.repo.CreateWithdrawal(txCtx, withdrawal)
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("requested").Inc()
	if s.notifier != nil {
		s.notifier.WithdrawalOTP(ctx, withdrawal, code)
	}
	return withdrawal, nil
}

// VerifyOTP checks the submitted code. Success hands the withdrawal off to
// the transfer step, decoupled from the caller's request. Wrong codes burn
// one of a bounded number of attempts; exhausting them fails the withdrawal
// terminally rather than allowing indefinite guessing.
func (s *WithdrawalService) VerifyOTP(ctx context.Context, withdrawalID, code string) (domain.Withdrawal, error) {
	now := s.clock.Now()
	var withdrawal domain.Withdrawal

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		w, err := s.repo.GetWithdrawalForUpdate(txCtx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalPending {
			return domain.ErrWithdrawalNotPending
		}
		if now.After(w.OTPExpiresAt) {
			if err := s.repo.MarkFailed(txCtx, w.ID, "otp expired"); err != nil {
				return err
			}
			return domain.ErrOTPExpired
		}

		if !otpMatches(w.OTPHash, code) {
			attempts, err := s.repo.IncrementOTPAttempts(txCtx, w.ID)
			if err != nil {
				return err
			}
			if attempts >= s.maxAttempts {
				if err := s.repo.MarkFailed(txCtx, w.ID, "otp attempts exceeded"); err != nil {
					return err
				}
				return domain.ErrOTPAttemptsExceeded
			}
			return domain.ErrInvalidOTP
		}

		if err := s.repo.SetProcessing(txCtx, w.ID); err != nil {
			return err
		}
		w.Status = domain.WithdrawalProcessing
		withdrawal = w
		return nil
	})
	if err != nil {
		return domain.Withdrawal{}, err
	}

	// Fire-and-continue: the transfer proceeds independently of the HTTP
	// request that verified the code.
	go s.processTransfer(context.WithoutCancel(ctx), withdrawal)

	return withdrawal, nil
}

// processTransfer runs the transfer step for a withdrawal in PROCESSING:
// resolve the destination, ask the port to pay out, and only then debit
// available and append the withdrawal entry.
func (s *WithdrawalService) processTransfer(ctx context.Context, w domain.Withdrawal) {
	defer func() {
		if s.transferDone != nil {
			s.transferDone <- w.ID
		}
	}()

	dest, err := s.destinations.DestinationFor(ctx, w.OrganizerID)
	if err != nil {
		s.failBeforeDebit(ctx, w, "destination lookup failed: "+err.Error())
		return
	}

	result, err := s.gateway.InitiateTransfer(ctx, w.Amount, dest)
	if err != nil {
		s.failBeforeDebit(ctx, w, "transfer initiation failed: "+err.Error())
		return
	}
	if result.Status == gateway.TransferFailed {
		s.failBeforeDebit(ctx, w, "transfer rejected by provider")
		return
	}

	// The port accepted the payout; debit now, in one transaction with the
	// ledger entry.
	now := s.clock.Now()
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.SetTransferRef(txCtx, w.ID, result.Ref); err != nil {
			return err
		}
		acc, err := s.repo.DebitAvailable(txCtx, w.OrganizerID, w.Amount)
		if err != nil {
			return err
		}
		entry := domain.NewDebitEntry(uuid.NewString(), w.OrganizerID, domain.EntryWithdrawal, w.Amount, now)
		entry.WithdrawalID = w.ID
		entry.CreatedAt = now
		entry.PendingAfter = acc.Pending
		entry.AvailableAfter = acc.Available
		return s.repo.AppendEntry(txCtx, &entry)
	})
	if err != nil {
		// Transfer accepted but the debit could not be applied; the
		// withdrawal is failed and flagged for manual review.
		s.logger.ErrorContext(ctx, "debit after accepted transfer failed, manual review required",
			"withdrawal_id", w.ID, "transfer_ref", result.Ref, "err", err)
		s.failBeforeDebit(ctx, w, "debit failed after transfer acceptance: "+err.Error())
		return
	}
	metrics.LedgerEntriesTotal.WithLabelValues(string(domain.EntryWithdrawal)).Inc()
	s.invalidator.Invalidate(ctx, w.OrganizerID)

	switch result.Status {
	case gateway.TransferSuccess:
		if err := s.ConfirmTransfer(ctx, w.ID); err != nil {
			s.logger.ErrorContext(ctx, "transfer confirmation failed, awaiting provider webhook",
				"withdrawal_id", w.ID, "err", err)
		}
	default:
		// Pending at the provider; the transfer webhook completes or fails it.
		metrics.WithdrawalsTotal.WithLabelValues("processing").Inc()
	}
}

// ConfirmTransfer applies a confirmed payout: the amount moves into the
// withdrawn bucket and the withdrawal completes. Invoked inline on immediate
// success and by the provider's transfer webhook otherwise.
func (s *WithdrawalService) ConfirmTransfer(ctx context.Context, withdrawalID string) error {
	var withdrawal domain.Withdrawal
	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		w, err := s.repo.GetWithdrawalForUpdate(txCtx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status == domain.WithdrawalCompleted {
			return nil
		}
		if w.Status != domain.WithdrawalProcessing {
			return domain.ErrWithdrawalNotFound
		}
		if _, err := s.repo.MarkWithdrawn(txCtx, w.OrganizerID, w.Amount); err != nil {
			return err
		}
		if err := s.repo.MarkCompleted(txCtx, w.ID); err != nil {
			return err
		}
		w.Status = domain.WithdrawalCompleted
		withdrawal = w
		return nil
	})
	if err != nil {
		return err
	}
	if withdrawal.ID == "" {
		return nil
	}

	metrics.WithdrawalsTotal.WithLabelValues("completed").Inc()
	s.invalidator.Invalidate(ctx, withdrawal.OrganizerID)
	if s.notifier != nil {
		s.notifier.WithdrawalStatus(ctx, withdrawal)
	}
	return nil
}

// FailTransfer applies a failed payout reported after acceptance. If the
// debit has already been posted it is compensated: available is restored and
// a reversing withdrawal credit is appended in the same transaction. The
// restoration is mandatory, not best-effort; without it a rejected transfer
// would silently destroy funds.
func (s *WithdrawalService) FailTransfer(ctx context.Context, withdrawalID, reason string) error {
	now := s.clock.Now()
	var withdrawal domain.Withdrawal
	var compensated bool

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		w, err := s.repo.GetWithdrawalForUpdate(txCtx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status == domain.WithdrawalFailed {
			return nil
		}
		if w.Status == domain.WithdrawalCompleted {
			return domain.ErrWithdrawalNotFound
		}

		debited, err := s.repo.HasWithdrawalDebit(txCtx, w.ID)
		if err != nil {
			return err
		}
		if debited {
			acc, err := s.repo.CreditAvailable(txCtx, w.OrganizerID, w.Amount)
			if err != nil {
				return err
			}
			entry := domain.NewCreditEntry(uuid.NewString(), w.OrganizerID, domain.EntryWithdrawal, w.Amount, now)
			entry.WithdrawalID = w.ID
			entry.CreatedAt = now
			entry.PendingAfter = acc.Pending
			entry.AvailableAfter = acc.Available
			if err := s.repo.AppendEntry(txCtx, &entry); err != nil {
				return err
			}
			compensated = true
		}

		if err := s.repo.MarkFailed(txCtx, w.ID, reason); err != nil {
			return err
		}
		w.Status = domain.WithdrawalFailed
		withdrawal = w
		return nil
	})
	if err != nil {
		return err
	}
	if withdrawal.ID == "" {
		return nil
	}

	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	if compensated {
		metrics.WithdrawalsTotal.WithLabelValues("rolled_back").Inc()
		s.invalidator.Invalidate(ctx, withdrawal.OrganizerID)
	}
	if s.notifier != nil {
		s.notifier.WithdrawalStatus(ctx, withdrawal)
	}
	return nil
}

// failBeforeDebit fails a withdrawal for which no money has moved.
func (s *WithdrawalService) failBeforeDebit(ctx context.Context, w domain.Withdrawal, reason string) {
	if err := s.repo.MarkFailed(ctx, w.ID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark withdrawal failed",
			"withdrawal_id", w.ID, "err", err)
		return
	}
	metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	w.Status = domain.WithdrawalFailed
	w.FailureReason = reason
	if s.notifier != nil {
		s.notifier.WithdrawalStatus(ctx, w)
	}
}

// ConfirmTransferByRef resolves a provider transfer reference and confirms
// the payout. Transfer webhooks identify withdrawals only by that reference.
func (s *WithdrawalService) ConfirmTransferByRef(ctx context.Context, transferRef string) error {
	w, err := s.repo.GetWithdrawalByTransferRef(ctx, transferRef)
	if err != nil {
		return err
	}
	return s.ConfirmTransfer(ctx, w.ID)
}

// FailTransferByRef resolves a provider transfer reference and fails the
// payout, compensating the debit when one was posted.
func (s *WithdrawalService) FailTransferByRef(ctx context.Context, transferRef, reason string) error {
	w, err := s.repo.GetWithdrawalByTransferRef(ctx, transferRef)
	if err != nil {
		return err
	}
	return s.FailTransfer(ctx, w.ID, reason)
}

// GetWithdrawal exposes the current state for the transport layer.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	return s.repo.GetWithdrawal(ctx, id)
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/app"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

type stubVerifier struct {
	result app.SettleResult
	report app.VerifySweepReport
	err    error
}

func (s *stubVerifier) VerifyPayment(context.Context, string) (app.SettleResult, error) {
	return s.result, s.err
}

func (s *stubVerifier) VerifyPendingPayments(context.Context) (app.VerifySweepReport, error) {
	return s.report, s.err
}

type stubWithdrawals struct {
	withdrawal domain.Withdrawal
	err        error
}

func (s *stubWithdrawals) Request(context.Context, string, decimal.Decimal) (domain.Withdrawal, error) {
	return s.withdrawal, s.err
}

func (s *stubWithdrawals) VerifyOTP(context.Context, string, string) (domain.Withdrawal, error) {
	return s.withdrawal, s.err
}

func (s *stubWithdrawals) GetWithdrawal(context.Context, string) (domain.Withdrawal, error) {
	return s.withdrawal, s.err
}

type stubRedeemer struct {
	ticket domain.Ticket
	err    error
}

func (s *stubRedeemer) CheckIn(context.Context, string, string) (domain.Ticket, error) {
	return s.ticket, s.err
}

type stubReversals struct {
	result app.ReversalResult
	err    error
}

func (s *stubReversals) PostRefund(context.Context, string, string) (app.ReversalResult, error) {
	return s.result, s.err
}

func (s *stubReversals) PostChargeback(context.Context, string, string) (app.ReversalResult, error) {
	return s.result, s.err
}

type stubBalances struct {
	account domain.BalanceAccount
	entries []domain.LedgerEntry
	err     error
}

func (s *stubBalances) GetBalance(context.Context, string) (domain.BalanceAccount, error) {
	return s.account, s.err
}

func (s *stubBalances) ListEntries(context.Context, string) ([]domain.LedgerEntry, error) {
	return s.entries, s.err
}

type stubSweeper struct{ err error }

func (s *stubSweeper) Run(context.Context) error { return s.err }

type routerStubs struct {
	settler     *stubSettler
	verifier    *stubVerifier
	transfers   *stubTransfers
	withdrawals *stubWithdrawals
	redeemer    *stubRedeemer
	reversals   *stubReversals
	balances    *stubBalances
	sweeper     *stubSweeper
}

func newTestRouter(stubs routerStubs) http.Handler {
	if stubs.settler == nil {
		stubs.settler = &stubSettler{}
	}
	if stubs.verifier == nil {
		stubs.verifier = &stubVerifier{}
	}
	if stubs.transfers == nil {
		stubs.transfers = &stubTransfers{}
	}
	if stubs.withdrawals == nil {
		stubs.withdrawals = &stubWithdrawals{}
	}
	if stubs.redeemer == nil {
		stubs.redeemer = &stubRedeemer{}
	}
	if stubs.reversals == nil {
		stubs.reversals = &stubReversals{}
	}
	if stubs.balances == nil {
		stubs.balances = &stubBalances{}
	}
	if stubs.sweeper == nil {
		stubs.sweeper = &stubSweeper{}
	}
	return NewRouter(RouterConfig{
		WebhookSecret: testSecret,
		CORSOrigins:   []string{"http://localhost:5173"},
		Settler:       stubs.settler,
		Verifier:      stubs.verifier,
		Transfers:     stubs.transfers,
		Withdrawals:   stubs.withdrawals,
		Redeemer:      stubs.redeemer,
		Reversals:     stubs.reversals,
		Balances:      stubs.balances,
		Ledger:        stubs.balances,
		Sweeper:       stubs.sweeper,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, newTestRouter(routerStubs{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, newTestRouter(routerStubs{}), http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Code != codeNotFound {
		t.Fatalf("expected code %q, got %q", codeNotFound, resp.Code)
	}
}

func TestRouter_CheckIn(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 19, 0, 0, 0, time.UTC)
		router := newTestRouter(routerStubs{redeemer: &stubRedeemer{ticket: domain.Ticket{
			ID:          "t-1",
			Status:      domain.TicketCheckedIn,
			CheckedInAt: &at,
			CheckedInBy: "staff-1",
		}}})

		rec := doJSON(t, router, http.MethodPost, "/tickets/t-1/checkin", `{"staff_id":"staff-1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("conflict carries the winner", func(t *testing.T) {
		at := time.Date(2025, 6, 10, 19, 0, 0, 0, time.UTC)
		router := newTestRouter(routerStubs{redeemer: &stubRedeemer{
			ticket: domain.Ticket{Status: domain.TicketCheckedIn, CheckedInAt: &at, CheckedInBy: "staff-1"},
			err:    domain.ErrAlreadyCheckedIn,
		}})

		rec := doJSON(t, router, http.MethodPost, "/tickets/t-1/checkin", `{"staff_id":"staff-2"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var resp checkInConflict
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if resp.CheckedInBy != "staff-1" || resp.CheckedInAt == nil {
			t.Fatalf("expected winner details, got %+v", resp)
		}
	})

	t.Run("missing staff id", func(t *testing.T) {
		rec := doJSON(t, newTestRouter(routerStubs{}), http.MethodPost, "/tickets/t-1/checkin", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("refunded ticket maps to conflict", func(t *testing.T) {
		router := newTestRouter(routerStubs{redeemer: &stubRedeemer{err: domain.ErrTicketNotRedeemable}})
		rec := doJSON(t, router, http.MethodPost, "/tickets/t-1/checkin", `{"staff_id":"s"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})
}

func TestRouter_Withdrawals(t *testing.T) {
	t.Parallel()

	t.Run("request accepted", func(t *testing.T) {
		router := newTestRouter(routerStubs{withdrawals: &stubWithdrawals{withdrawal: domain.Withdrawal{
			ID:          "w-1",
			OrganizerID: "org-1",
			Amount:      decimal.RequireFromString("5000"),
			Status:      domain.WithdrawalPending,
		}}})

		rec := doJSON(t, router, http.MethodPost, "/organizers/org-1/withdrawals", `{"amount":"5000"}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "otp") {
			t.Fatalf("response must not leak otp material: %s", rec.Body.String())
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{domain.ErrBelowMinimumAmount, http.StatusUnprocessableEntity},
			{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
			{domain.ErrFundsNotMatured, http.StatusUnprocessableEntity},
			{domain.ErrBankDetailsMissing, http.StatusUnprocessableEntity},
			{domain.ErrWithdrawalInFlight, http.StatusConflict},
		}
		for _, tc := range cases {
			router := newTestRouter(routerStubs{withdrawals: &stubWithdrawals{err: tc.err}})
			rec := doJSON(t, router, http.MethodPost, "/organizers/org-1/withdrawals", `{"amount":"5000"}`)
			if rec.Code != tc.want {
				t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
			}
		}
	})

	t.Run("otp verification error mapping", func(t *testing.T) {
		cases := []struct {
			err  error
			want int
		}{
			{domain.ErrInvalidOTP, http.StatusUnauthorized},
			{domain.ErrOTPExpired, http.StatusGone},
			{domain.ErrOTPAttemptsExceeded, http.StatusTooManyRequests},
			{domain.ErrWithdrawalNotPending, http.StatusConflict},
		}
		for _, tc := range cases {
			router := newTestRouter(routerStubs{withdrawals: &stubWithdrawals{err: tc.err}})
			rec := doJSON(t, router, http.MethodPost, "/withdrawals/w-1/verify", `{"code":"123456"}`)
			if rec.Code != tc.want {
				t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
			}
		}
	})

	t.Run("malformed otp rejected before the service", func(t *testing.T) {
		router := newTestRouter(routerStubs{withdrawals: &stubWithdrawals{err: domain.ErrInvalidOTP}})
		rec := doJSON(t, router, http.MethodPost, "/withdrawals/w-1/verify", `{"code":"12ab"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRouter_Balance(t *testing.T) {
	t.Parallel()

	router := newTestRouter(routerStubs{balances: &stubBalances{account: domain.BalanceAccount{
		OrganizerID: "org-1",
		Pending:     decimal.RequireFromString("9500"),
		Available:   decimal.RequireFromString("100.50"),
		Withdrawn:   decimal.Zero,
	}}})

	rec := doJSON(t, router, http.MethodGet, "/organizers/org-1/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !resp.Pending.Equal(decimal.RequireFromString("9500")) {
		t.Fatalf("expected pending 9500, got %s", resp.Pending)
	}
	if !resp.Available.Equal(decimal.RequireFromString("100.50")) {
		t.Fatalf("expected available 100.50, got %s", resp.Available)
	}
}

func TestRouter_VerifyPayment(t *testing.T) {
	t.Parallel()

	t.Run("maps not pending to conflict", func(t *testing.T) {
		router := newTestRouter(routerStubs{verifier: &stubVerifier{err: domain.ErrPaymentNotPending}})
		rec := doJSON(t, router, http.MethodPost, "/payments/pay-1/verify", "")
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("sweep report", func(t *testing.T) {
		router := newTestRouter(routerStubs{verifier: &stubVerifier{report: app.VerifySweepReport{Checked: 3, Settled: 2, Failed: 1}}})
		rec := doJSON(t, router, http.MethodPost, "/admin/payments/verify-pending", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp verifySweepResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if resp.Checked != 3 || resp.Settled != 2 || resp.Failed != 1 {
			t.Fatalf("unexpected report %+v", resp)
		}
	})
}

func TestRouter_Refunds(t *testing.T) {
	t.Parallel()

	t.Run("refund", func(t *testing.T) {
		router := newTestRouter(routerStubs{reversals: &stubReversals{result: app.ReversalResult{
			Outcome: app.OutcomeReversed,
			Ticket:  domain.Ticket{ID: "t-1", Status: domain.TicketRefunded},
		}}})
		rec := doJSON(t, router, http.MethodPost, "/tickets/t-1/refund", `{"external_ref":"rf-1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp reversalResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if resp.Outcome != string(app.OutcomeReversed) || resp.Status != string(domain.TicketRefunded) {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("retry is an acknowledged no-op", func(t *testing.T) {
		router := newTestRouter(routerStubs{reversals: &stubReversals{result: app.ReversalResult{
			Outcome: app.OutcomeAlreadyReversed,
			Ticket:  domain.Ticket{ID: "t-1", Status: domain.TicketRefunded},
		}}})
		rec := doJSON(t, router, http.MethodPost, "/tickets/t-1/refund", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp reversalResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if resp.Outcome != string(app.OutcomeAlreadyReversed) {
			t.Fatalf("expected duplicate outcome, got %q", resp.Outcome)
		}
	})
}

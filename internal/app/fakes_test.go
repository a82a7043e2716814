package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/gateway"
)

// fakeStore is an in-memory stand-in for the Postgres repositories. It
// mirrors their semantics closely enough for the services: dedup checks in
// AppendEntry, status-guarded withdrawal transitions, conditional ticket
// updates, and rollback of all state when a transaction function errors.
type fakeStore struct {
	mu sync.Mutex

	payments     map[string]domain.Payment
	pricing      map[string]domain.TierPricing
	capacity     map[string]int
	sold         map[string]int
	tickets      map[string]domain.Ticket
	accounts     map[string]domain.BalanceAccount
	entries      []domain.LedgerEntry
	withdrawals  map[string]domain.Withdrawal
	destinations map[string]gateway.Destination
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments:     make(map[string]domain.Payment),
		pricing:      make(map[string]domain.TierPricing),
		capacity:     make(map[string]int),
		sold:         make(map[string]int),
		tickets:      make(map[string]domain.Ticket),
		accounts:     make(map[string]domain.BalanceAccount),
		withdrawals:  make(map[string]domain.Withdrawal),
		destinations: make(map[string]gateway.Destination),
	}
}

var (
	_ SettlementRepository = (*fakeStore)(nil)
	_ MaturityRepository   = (*fakeStore)(nil)
	_ WithdrawalRepository = (*fakeStore)(nil)
	_ RefundRepository     = (*fakeStore)(nil)
	_ CheckInRepository    = (*fakeStore)(nil)
	_ DestinationResolver  = (*fakeStore)(nil)
)

type fakeSnapshot struct {
	payments    map[string]domain.Payment
	sold        map[string]int
	tickets     map[string]domain.Ticket
	accounts    map[string]domain.BalanceAccount
	entries     []domain.LedgerEntry
	withdrawals map[string]domain.Withdrawal
}

func (f *fakeStore) snapshot() fakeSnapshot {
	return fakeSnapshot{
		payments:    copyMap(f.payments),
		sold:        copyMap(f.sold),
		tickets:     copyMap(f.tickets),
		accounts:    copyMap(f.accounts),
		entries:     append([]domain.LedgerEntry(nil), f.entries...),
		withdrawals: copyMap(f.withdrawals),
	}
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.payments = s.payments
	f.sold = s.sold
	f.tickets = s.tickets
	f.accounts = s.accounts
	f.entries = s.entries
	f.withdrawals = s.withdrawals
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithTx serializes transaction functions and rolls the whole store back
// when one errors, matching the real store's atomicity.
func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshot()
	if err := fn(ctx); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) GetPaymentForUpdate(_ context.Context, reference string) (domain.Payment, error) {
	p, ok := f.payments[reference]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakeStore) SetPaymentStatus(_ context.Context, reference string, status domain.PaymentStatus, externalRef string, paidAt *time.Time) error {
	p, ok := f.payments[reference]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.Status = status
	if externalRef != "" {
		p.ExternalRef = externalRef
	}
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	f.payments[reference] = p
	return nil
}

func (f *fakeStore) GetTierPricing(_ context.Context, tierID string) (domain.TierPricing, error) {
	p, ok := f.pricing[tierID]
	if !ok {
		return domain.TierPricing{}, domain.ErrTierNotFound
	}
	return p, nil
}

func (f *fakeStore) ReserveSeat(_ context.Context, tierID string) error {
	limit, ok := f.capacity[tierID]
	if !ok {
		return domain.ErrTierNotFound
	}
	if f.sold[tierID] >= limit {
		return domain.ErrSoldOut
	}
	f.sold[tierID]++
	return nil
}

func (f *fakeStore) CreateTicket(_ context.Context, t domain.Ticket) error {
	f.tickets[t.ID] = t
	return nil
}

func (f *fakeStore) ListPendingReferences(_ context.Context) ([]string, error) {
	var refs []string
	for ref, p := range f.payments {
		if p.Status == domain.PaymentPending {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (f *fakeStore) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	for _, e := range f.entries {
		if e.OrganizerID != entry.OrganizerID {
			continue
		}
		if entry.ExternalRef != "" && e.ExternalRef == entry.ExternalRef {
			return domain.ErrDuplicateEntry
		}
		if entry.ExternalRef == "" && entry.TicketID != "" &&
			e.TicketID == entry.TicketID && e.Type == entry.Type {
			return domain.ErrDuplicateEntry
		}
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeStore) account(organizerID string) domain.BalanceAccount {
	acc, ok := f.accounts[organizerID]
	if !ok {
		acc = domain.BalanceAccount{
			OrganizerID: organizerID,
			Pending:     decimal.Zero,
			Available:   decimal.Zero,
			Withdrawn:   decimal.Zero,
		}
		f.accounts[organizerID] = acc
	}
	return acc
}

func (f *fakeStore) CreditPending(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	acc.Pending = acc.Pending.Add(amount)
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) DebitAvailable(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	if amount.GreaterThan(acc.Available) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	acc.Available = acc.Available.Sub(amount)
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) CreditAvailable(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	acc.Available = acc.Available.Add(amount)
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) DebitPendingFirst(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	if amount.GreaterThan(acc.Pending.Add(acc.Available)) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	fromPending := decimal.Min(amount, acc.Pending)
	acc.Pending = acc.Pending.Sub(fromPending)
	acc.Available = acc.Available.Sub(amount.Sub(fromPending))
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) Release(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	if amount.GreaterThan(acc.Pending) {
		return domain.BalanceAccount{}, domain.ErrInsufficientFunds
	}
	acc.Pending = acc.Pending.Sub(amount)
	acc.Available = acc.Available.Add(amount)
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) MarkWithdrawn(_ context.Context, organizerID string, amount decimal.Decimal) (domain.BalanceAccount, error) {
	acc := f.account(organizerID)
	acc.Withdrawn = acc.Withdrawn.Add(amount)
	f.accounts[organizerID] = acc
	return acc, nil
}

func (f *fakeStore) LockBalance(_ context.Context, organizerID string) (domain.BalanceAccount, error) {
	return f.account(organizerID), nil
}

func (f *fakeStore) HasWithdrawalDebit(_ context.Context, withdrawalID string) (bool, error) {
	for _, e := range f.entries {
		if e.WithdrawalID == withdrawalID && e.Debit.IsPositive() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) OrganizersWithPending(_ context.Context) ([]string, error) {
	var ids []string
	for id, acc := range f.accounts {
		if acc.Pending.IsPositive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) FirstPaidSaleDate(_ context.Context, organizerID string) (*time.Time, error) {
	var first *time.Time
	for _, e := range f.entries {
		if e.OrganizerID != organizerID || e.Type != domain.EntrySale || !e.NetAmount.IsPositive() {
			continue
		}
		if first == nil || e.ValueDate.Before(*first) {
			vd := e.ValueDate
			first = &vd
		}
	}
	return first, nil
}

func (f *fakeStore) MaturedSales(_ context.Context, organizerID string, cutoff time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range f.entries {
		if e.OrganizerID == organizerID && e.Type == domain.EntrySale && !e.ValueDate.After(cutoff) {
			total = total.Add(e.NetAmount)
		}
	}
	return total, nil
}

func (f *fakeStore) ReversalTotal(_ context.Context, organizerID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range f.entries {
		if e.OrganizerID == organizerID && (e.Type == domain.EntryRefund || e.Type == domain.EntryChargeback) {
			total = total.Add(e.NetAmount)
		}
	}
	return total.Neg(), nil
}

func (f *fakeStore) CreateWithdrawal(_ context.Context, w domain.Withdrawal) error {
	for _, existing := range f.withdrawals {
		if existing.OrganizerID == w.OrganizerID &&
			(existing.Status == domain.WithdrawalPending || existing.Status == domain.WithdrawalProcessing) {
			return domain.ErrWithdrawalInFlight
		}
	}
	f.withdrawals[w.ID] = w
	return nil
}

func (f *fakeStore) GetWithdrawal(_ context.Context, id string) (domain.Withdrawal, error) {
	w, ok := f.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, domain.ErrWithdrawalNotFound
	}
	return w, nil
}

func (f *fakeStore) GetWithdrawalForUpdate(ctx context.Context, id string) (domain.Withdrawal, error) {
	return f.GetWithdrawal(ctx, id)
}

func (f *fakeStore) GetWithdrawalByTransferRef(_ context.Context, ref string) (domain.Withdrawal, error) {
	for _, w := range f.withdrawals {
		if w.ExternalTransferRef == ref && ref != "" {
			return w, nil
		}
	}
	return domain.Withdrawal{}, domain.ErrWithdrawalNotFound
}

func (f *fakeStore) IncrementOTPAttempts(_ context.Context, id string) (int, error) {
	w, ok := f.withdrawals[id]
	if !ok {
		return 0, domain.ErrWithdrawalNotFound
	}
	w.OTPAttempts++
	f.withdrawals[id] = w
	return w.OTPAttempts, nil
}

func (f *fakeStore) SetProcessing(_ context.Context, id string) error {
	w, ok := f.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return domain.ErrWithdrawalNotPending
	}
	w.Status = domain.WithdrawalProcessing
	f.withdrawals[id] = w
	return nil
}

func (f *fakeStore) SetTransferRef(_ context.Context, id, transferRef string) error {
	w, ok := f.withdrawals[id]
	if !ok {
		return domain.ErrWithdrawalNotFound
	}
	w.ExternalTransferRef = transferRef
	f.withdrawals[id] = w
	return nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id string) error {
	w, ok := f.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalProcessing {
		return domain.ErrWithdrawalNotFound
	}
	w.Status = domain.WithdrawalCompleted
	f.withdrawals[id] = w
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, reason string) error {
	w, ok := f.withdrawals[id]
	if !ok {
		return domain.ErrWithdrawalNotFound
	}
	w.Status = domain.WithdrawalFailed
	w.FailureReason = reason
	f.withdrawals[id] = w
	return nil
}

func (f *fakeStore) DestinationFor(_ context.Context, organizerID string) (gateway.Destination, error) {
	return f.destinations[organizerID], nil
}

func (f *fakeStore) GetTicket(_ context.Context, id string) (domain.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

func (f *fakeStore) TryCheckIn(_ context.Context, id, staffID string, at time.Time) (bool, error) {
	t, ok := f.tickets[id]
	if !ok {
		return false, nil
	}
	if t.Status != domain.TicketActive {
		return false, nil
	}
	t.Status = domain.TicketCheckedIn
	t.CheckedInAt = &at
	t.CheckedInBy = staffID
	f.tickets[id] = t
	return true, nil
}

func (f *fakeStore) TryRefund(_ context.Context, id string) (bool, error) {
	t, ok := f.tickets[id]
	if !ok || t.Status != domain.TicketActive {
		return false, nil
	}
	t.Status = domain.TicketRefunded
	f.tickets[id] = t
	return true, nil
}

func (f *fakeStore) TryCancel(_ context.Context, id string) (bool, error) {
	t, ok := f.tickets[id]
	if !ok || (t.Status != domain.TicketActive && t.Status != domain.TicketCheckedIn) {
		return false, nil
	}
	t.Status = domain.TicketCancelled
	f.tickets[id] = t
	return true, nil
}

func (f *fakeStore) SaleNetForTicket(_ context.Context, ticketID string) (decimal.Decimal, time.Time, error) {
	for _, e := range f.entries {
		if e.TicketID == ticketID && e.Type == domain.EntrySale {
			return e.NetAmount, e.ValueDate, nil
		}
	}
	return decimal.Zero, time.Time{}, domain.ErrTicketNotFound
}

// fakeGateway returns scripted results.
type fakeGateway struct {
	mu             sync.Mutex
	verification   gateway.Verification
	verifyErr      error
	transfer       gateway.TransferResult
	transferErr    error
	transfersMade  int
	verifiedRefs   []string
	lastTransferTo gateway.Destination
}

var _ gateway.PaymentGateway = (*fakeGateway)(nil)

func (g *fakeGateway) VerifyTransaction(_ context.Context, reference string) (gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifiedRefs = append(g.verifiedRefs, reference)
	return g.verification, g.verifyErr
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, _ decimal.Decimal, dest gateway.Destination) (gateway.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfersMade++
	g.lastTransferTo = dest
	return g.transfer, g.transferErr
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	mu          sync.Mutex
	confirmed   []domain.Ticket
	otps        map[string]string
	statusCalls []domain.Withdrawal
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{otps: make(map[string]string)}
}

func (n *fakeNotifier) TicketConfirmed(_ context.Context, ticket domain.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, ticket)
}

func (n *fakeNotifier) WithdrawalOTP(_ context.Context, w domain.Withdrawal, code string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otps[w.ID] = code
}

func (n *fakeNotifier) WithdrawalStatus(_ context.Context, w domain.Withdrawal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusCalls = append(n.statusCalls, w)
}

func (n *fakeNotifier) codeFor(id string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.otps[id]
}

// Package notify is the fire-and-forget notification port. Rendering and
// delivery belong to the messaging service; failures here are logged and
// never affect money state.
package notify

import (
	"context"
	"log/slog"

	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
)

type Notifier interface {
	TicketConfirmed(ctx context.Context, ticket domain.Ticket)
	WithdrawalOTP(ctx context.Context, withdrawal domain.Withdrawal, code string)
	WithdrawalStatus(ctx context.Context, withdrawal domain.Withdrawal)
}

// LogNotifier logs notification intents; used until the messaging service
// binding is wired in, and in tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) TicketConfirmed(ctx context.Context, ticket domain.Ticket) {
	n.Logger.InfoContext(ctx, "notify ticket confirmed",
		"ticket_id", ticket.ID, "email", ticket.AttendeeEmail)
}

func (n *LogNotifier) WithdrawalOTP(ctx context.Context, w domain.Withdrawal, code string) {
	// The code itself is never logged.
	n.Logger.InfoContext(ctx, "notify withdrawal otp issued",
		"withdrawal_id", w.ID, "organizer_id", w.OrganizerID)
}

func (n *LogNotifier) WithdrawalStatus(ctx context.Context, w domain.Withdrawal) {
	n.Logger.InfoContext(ctx, "notify withdrawal status",
		"withdrawal_id", w.ID, "status", w.Status)
}

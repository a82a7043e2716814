package app

import (
	"context"
	"time"

	"github.com/hdticketdesk/platform/services/settlement/internal/clock"
	"github.com/hdticketdesk/platform/services/settlement/internal/domain"
	"github.com/hdticketdesk/platform/services/settlement/internal/metrics"
)

type CheckInRepository interface {
	GetTicket(ctx context.Context, id string) (domain.Ticket, error)
	TryCheckIn(ctx context.Context, id, staffID string, at time.Time) (bool, error)
}

// CheckInService redeems tickets. The transition is a single conditional
// update, never read-then-write: under N concurrent attempts exactly one
// succeeds and the rest see the winner's checker identity and timestamp.
type CheckInService struct {
	repo  CheckInRepository
	clock clock.Clock
}

func NewCheckInService(repo CheckInRepository, clk clock.Clock) *CheckInService {
	return &CheckInService{repo: repo, clock: clk}
}

func (s *CheckInService) CheckIn(ctx context.Context, ticketID, staffID string) (domain.Ticket, error) {
	won, err := s.repo.TryCheckIn(ctx, ticketID, staffID, s.clock.Now())
	if err != nil {
		return domain.Ticket{}, err
	}

	// Re-read either way: the winner gets the stamped row, a loser reports
	// the actual state rather than the values from this request.
	ticket, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if won {
		return ticket, nil
	}

	switch ticket.Status {
	case domain.TicketCheckedIn:
		metrics.CheckInConflicts.Inc()
		return ticket, domain.ErrAlreadyCheckedIn
	default:
		return ticket, domain.ErrTicketNotRedeemable
	}
}

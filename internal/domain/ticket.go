package domain

import "time"

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketCheckedIn TicketStatus = "checked_in"
	TicketRefunded  TicketStatus = "refunded"
	TicketCancelled TicketStatus = "cancelled"
)

// Ticket transitions: active -> checked_in, active -> refunded, any -> cancelled.
// checked_in and refunded are never left once entered.
type Ticket struct {
	ID               string
	TierID           string
	EventID          string
	OrganizerID      string
	PaymentReference string
	AttendeeEmail    string
	Status           TicketStatus
	CheckedInAt      *time.Time
	CheckedInBy      string
	CreatedAt        time.Time
}

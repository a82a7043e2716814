package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Organizer is the payee side of the marketplace. Profile management lives in
// the CRUD service; settlement only needs the identity.
type Organizer struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Event carries the fee mode chosen by the organizer: when BuyerPaysFee is
// set the service fee is added on top of the tier price at checkout and the
// organizer keeps the full gross.
type Event struct {
	ID           string
	OrganizerID  string
	Name         string
	BuyerPaysFee bool
	StartsAt     time.Time
}

// TierPricing is the pricing view of a tier that the fee computation needs:
// the price plus the event's fee mode and payee.
type TierPricing struct {
	TierID       string
	EventID      string
	OrganizerID  string
	Price        decimal.Decimal
	BuyerPaysFee bool
}

// Tier is the sellable inventory unit. Sold never exceeds Capacity.
type Tier struct {
	ID       string
	EventID  string
	Name     string
	Price    decimal.Decimal
	Capacity int
	Sold     int
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventDraft     = "draft"
	EventPublished = "published"
	EventStarted   = "started"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
)

type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Venue       string          `json:"venue"`
	StartTime   time.Time       `json:"start_time"`
	TotalSeats  int             `json:"total_seats"`
	Remaining   int             `json:"remaining"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Status      string          `json:"status"`

	// OrganizerPhone receives the organizer's payout share.
	OrganizerPhone string `json:"organizer_phone,omitempty"`
}

// OnSale reports whether bookings may be created for the event.
func (e *Event) OnSale() bool {
	return e.Status == EventPublished || e.Status == EventStarted
}

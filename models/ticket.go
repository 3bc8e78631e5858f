package models

import (
	"time"
)

type Ticket struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`
	EventID   string `json:"event_id"`

	// Seq is the ticket's position within its booking, 1..quantity.
	Seq int `json:"seq"`

	// Code is the globally unique scan credential printed on the ticket.
	Code string `json:"code"`

	Scanned   bool       `json:"scanned"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
	ScannedBy string     `json:"scanned_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

package status

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Synchronous booking-creation failures. No side effects occurred.
	ErrUnknownEvent          = errors.New("booking: unknown event")
	ErrInvalidQuantity       = errors.New("booking: invalid ticket quantity")
	ErrInsufficientInventory = errors.New("booking: not enough tickets remaining")
	ErrEventNotOnSale        = errors.New("booking: event is not on sale")

	// ErrStillPending means the provider has no terminal answer yet. Polling
	// treats it the same as a pending status, never as a failure.
	ErrStillPending = errors.New("payment: transaction still pending")

	// ErrRefNotFound means the correlation id matches no known booking.
	ErrRefNotFound = errors.New("payment: correlation id not found")

	// ErrBookingNotFound means the booking id matches no record.
	ErrBookingNotFound = errors.New("booking: not found")
)

// State is the normalized provider-side state of a payment attempt.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Transaction is a provider signal normalized to one shape, whether it came
// from a webhook, an IPN-triggered status fetch, or a poll.
type Transaction struct {
	// Ref is the provider correlation id assigned at initiation.
	Ref        string          `json:"ref"`
	State      State           `json:"state"`
	Amount     decimal.Decimal `json:"amount"`
	Receipt    string          `json:"receipt,omitempty"` // provider receipt number
	Reason     string          `json:"reason,omitempty"`  // provider description, set on failures
	OccurredAt time.Time       `json:"occurred_at"`
}

// Terminal reports whether the transaction needs no further reconciliation.
func (t *Transaction) Terminal() bool {
	return t.State == StateCompleted || t.State == StateFailed
}

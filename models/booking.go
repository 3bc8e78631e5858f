package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment lifecycle of a booking. Terminal states never change again.
const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentCompleted  = "completed"
	PaymentFailed     = "failed"
)

// Organizer payout lifecycle, attached to a completed booking only.
const (
	PayoutNone      = ""
	PayoutPending   = "payout_pending"
	PayoutCompleted = "payout_completed"
	PayoutFailed    = "payout_failed"
)

const (
	MethodMpesa   = "mpesa"   // STK push to the buyer's phone
	MethodPesapal = "pesapal" // redirect to hosted checkout
)

type Booking struct {
	ID            string          `json:"id"`
	EventID       string          `json:"event_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`

	// ProviderRef is the provider's correlation id, assigned at initiation
	// (CheckoutRequestID for mpesa, order_tracking_id for pesapal).
	ProviderRef string `json:"provider_ref,omitempty"`

	// Commission breakdown, zero until the booking completes.
	CommissionFee   decimal.Decimal `json:"commission_fee"`
	OrganizerAmount decimal.Decimal `json:"organizer_amount"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`

	PayoutStatus string `json:"payout_status,omitempty"`
	PayoutRef    string `json:"payout_ref,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the payment status allows no further transitions.
func (b *Booking) Terminal() bool {
	return b.PaymentStatus == PaymentCompleted || b.PaymentStatus == PaymentFailed
}

func ValidMethod(m string) bool {
	return m == MethodMpesa || m == MethodPesapal
}

package models

import (
	"github.com/shopspring/decimal"
)

// CommissionSettings is the singleton fee configuration. It is read at the
// moment a booking completes; later changes never touch already-completed
// bookings.
type CommissionSettings struct {
	ID         string          `json:"id"`
	Rate       decimal.Decimal `json:"rate"` // fraction of total, 0..1
	MinimumFee decimal.Decimal `json:"minimum_fee"`
	MaximumFee decimal.Decimal `json:"maximum_fee"`
	Active     bool            `json:"active"`
}

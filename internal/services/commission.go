package services

import (
	"github.com/shopspring/decimal"

	"tikiti/models"
)

// CommissionBreakdown is the deterministic fee split persisted on a booking
// at the moment it completes. Fee + OrganizerAmount always equals the total.
type CommissionBreakdown struct {
	Fee             decimal.Decimal
	OrganizerAmount decimal.Decimal
	AppliedRate     decimal.Decimal
}

// CalculateCommission splits totalPrice under the given settings. Clamping
// order: percentage first, then floor at the minimum fee, then cap at the
// maximum fee. A minimum fee larger than the total is capped at the total so
// the organizer share never goes negative.
func CalculateCommission(totalPrice decimal.Decimal, settings *models.CommissionSettings) CommissionBreakdown {
	if settings == nil || !settings.Active {
		return CommissionBreakdown{
			Fee:             decimal.Zero,
			OrganizerAmount: totalPrice,
			AppliedRate:     decimal.Zero,
		}
	}

	fee := totalPrice.Mul(settings.Rate)
	if fee.LessThan(settings.MinimumFee) {
		fee = settings.MinimumFee
	}
	if settings.MaximumFee.IsPositive() && fee.GreaterThan(settings.MaximumFee) {
		fee = settings.MaximumFee
	}
	if fee.GreaterThan(totalPrice) {
		fee = totalPrice
	}

	return CommissionBreakdown{
		Fee:             fee,
		OrganizerAmount: totalPrice.Sub(fee),
		AppliedRate:     settings.Rate,
	}
}

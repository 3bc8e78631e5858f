package services

import (
	"testing"

	"tikiti/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateCommission_Percentage(t *testing.T) {
	settings := &models.CommissionSettings{
		Rate:       dec("0.10"),
		MinimumFee: dec("0"),
		MaximumFee: dec("0"),
		Active:     true,
	}

	breakdown := CalculateCommission(dec("1000"), settings)

	assert.True(t, breakdown.Fee.Equal(dec("100")), "fee = %s", breakdown.Fee)
	assert.True(t, breakdown.OrganizerAmount.Equal(dec("900")), "organizer = %s", breakdown.OrganizerAmount)
	assert.True(t, breakdown.AppliedRate.Equal(dec("0.10")))
}

func TestCalculateCommission_Table(t *testing.T) {
	tests := []struct {
		name          string
		total         string
		rate          string
		min           string
		max           string
		active        bool
		wantFee       string
		wantOrganizer string
	}{
		{
			name:  "minimum fee floor",
			total: "100", rate: "0.05", min: "20", max: "0", active: true,
			wantFee: "20", wantOrganizer: "80",
		},
		{
			name:  "maximum fee cap",
			total: "100000", rate: "0.10", min: "0", max: "500", active: true,
			wantFee: "500", wantOrganizer: "99500",
		},
		{
			name:  "minimum above total capped at total",
			total: "10", rate: "0.05", min: "50", max: "0", active: true,
			wantFee: "10", wantOrganizer: "0",
		},
		{
			name:  "inactive settings charge nothing",
			total: "1000", rate: "0.10", min: "20", max: "0", active: false,
			wantFee: "0", wantOrganizer: "1000",
		},
		{
			name:  "zero rate with minimum still charges minimum",
			total: "500", rate: "0", min: "25", max: "0", active: true,
			wantFee: "25", wantOrganizer: "475",
		},
		{
			name:  "fractional amounts keep exact arithmetic",
			total: "333.33", rate: "0.10", min: "0", max: "0", active: true,
			wantFee: "33.333", wantOrganizer: "299.997",
		},
		{
			name:  "zero total",
			total: "0", rate: "0.10", min: "20", max: "0", active: true,
			wantFee: "0", wantOrganizer: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &models.CommissionSettings{
				Rate:       dec(tt.rate),
				MinimumFee: dec(tt.min),
				MaximumFee: dec(tt.max),
				Active:     tt.active,
			}

			breakdown := CalculateCommission(dec(tt.total), settings)

			assert.True(t, breakdown.Fee.Equal(dec(tt.wantFee)),
				"fee = %s, want %s", breakdown.Fee, tt.wantFee)
			assert.True(t, breakdown.OrganizerAmount.Equal(dec(tt.wantOrganizer)),
				"organizer = %s, want %s", breakdown.OrganizerAmount, tt.wantOrganizer)
		})
	}
}

func TestCalculateCommission_FeePlusOrganizerEqualsTotal(t *testing.T) {
	totals := []string{"1", "9.99", "100", "12345.67", "0.01"}
	settings := &models.CommissionSettings{
		Rate:       dec("0.125"),
		MinimumFee: dec("5"),
		MaximumFee: dec("1000"),
		Active:     true,
	}

	for _, total := range totals {
		breakdown := CalculateCommission(dec(total), settings)
		sum := breakdown.Fee.Add(breakdown.OrganizerAmount)
		assert.True(t, sum.Equal(dec(total)), "total %s: fee %s + organizer %s", total, breakdown.Fee, breakdown.OrganizerAmount)
		assert.False(t, breakdown.OrganizerAmount.IsNegative())
	}
}

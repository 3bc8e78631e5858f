package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBooking_Terminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{PaymentPending, false},
		{PaymentProcessing, false},
		{PaymentCompleted, true},
		{PaymentFailed, true},
	}

	for _, tt := range tests {
		b := &Booking{PaymentStatus: tt.status}
		assert.Equal(t, tt.terminal, b.Terminal(), "status %q", tt.status)
	}
}

func TestValidMethod(t *testing.T) {
	assert.True(t, ValidMethod(MethodMpesa))
	assert.True(t, ValidMethod(MethodPesapal))
	assert.False(t, ValidMethod(""))
	assert.False(t, ValidMethod("card"))
	assert.False(t, ValidMethod("MPESA"))
}

func TestEvent_OnSale(t *testing.T) {
	assert.True(t, (&Event{Status: EventPublished}).OnSale())
	assert.True(t, (&Event{Status: EventStarted}).OnSale())
	assert.False(t, (&Event{Status: EventDraft}).OnSale())
	assert.False(t, (&Event{Status: EventCompleted}).OnSale())
	assert.False(t, (&Event{Status: EventCancelled}).OnSale())
}

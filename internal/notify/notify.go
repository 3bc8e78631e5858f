package notify

import (
	"context"
	"log/slog"

	"tikiti/models"

	pubnub "github.com/pubnub/go/v7"
)

// Notifier is the sink for terminal booking outcomes. Ticket rendering
// (email, PDF) hangs off the same port elsewhere; this subsystem only emits.
type Notifier interface {
	PaymentCompleted(ctx context.Context, booking *models.Booking, event *models.Event, tickets []*models.Ticket)
	PaymentFailed(ctx context.Context, booking *models.Booking, reason string)
}

// PubNubNotifier pushes realtime updates to the per-booking channel the
// storefront subscribes to while the buyer waits on the payment screen.
type PubNubNotifier struct {
	pn     *pubnub.PubNub
	logger *slog.Logger
}

func NewPubNubNotifier(pn *pubnub.PubNub, logger *slog.Logger) *PubNubNotifier {
	return &PubNubNotifier{pn: pn, logger: logger}
}

func bookingChannel(bookingID string) string {
	return "booking-" + bookingID
}

func (n *PubNubNotifier) PaymentCompleted(_ context.Context, booking *models.Booking, event *models.Event, tickets []*models.Ticket) {
	codes := make([]string, 0, len(tickets))
	for _, t := range tickets {
		codes = append(codes, t.Code)
	}

	_, _, err := n.pn.Publish().
		Channel(bookingChannel(booking.ID)).
		Message(map[string]any{
			"type":       "payment_completed",
			"booking_id": booking.ID,
			"event":      event.Name,
			"quantity":   booking.Quantity,
			"codes":      codes,
		}).
		Execute()
	if err != nil {
		n.logger.Error("pubnub publish failed", "bookingId", booking.ID, "error", err)
	}
}

func (n *PubNubNotifier) PaymentFailed(_ context.Context, booking *models.Booking, reason string) {
	_, _, err := n.pn.Publish().
		Channel(bookingChannel(booking.ID)).
		Message(map[string]any{
			"type":       "payment_failed",
			"booking_id": booking.ID,
			"reason":     reason,
		}).
		Execute()
	if err != nil {
		n.logger.Error("pubnub publish failed", "bookingId", booking.ID, "error", err)
	}
}

// NopNotifier is used in tests and when pubnub keys are absent.
type NopNotifier struct{}

func (NopNotifier) PaymentCompleted(context.Context, *models.Booking, *models.Event, []*models.Ticket) {
}

func (NopNotifier) PaymentFailed(context.Context, *models.Booking, string) {}

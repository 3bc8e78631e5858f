package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tikiti/internal/services"
	"tikiti/internal/services/gateway"
	"tikiti/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

// WebhookHandler receives provider callbacks. Every response is 200: a non-2xx
// makes providers redeliver, and the compare-and-set reconciliation already
// makes redelivery harmless, so there is nothing useful to signal back.
type WebhookHandler struct {
	bookings *services.BookingService
	logger   *slog.Logger
}

func NewWebhookHandler(bookings *services.BookingService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{bookings: bookings, logger: logger}
}

// maxWebhookBody caps callback payload reads.
const maxWebhookBody = 1 << 20

// PaymentCallback - POST /payments/{provider}/webhook
func (h *WebhookHandler) PaymentCallback(e *core.RequestEvent) error {
	provider := gateway.Provider(e.Request.PathValue("provider"))

	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("read webhook body", "provider", provider, "error", err)
		return h.ack(e)
	}

	ctx := e.Request.Context()
	if err := h.bookings.HandleWebhook(ctx, provider, body); err != nil {
		// Unknown correlation ids happen when a webhook outlives its booking
		// or a stray retry arrives; log and swallow.
		if errors.Is(err, status.ErrRefNotFound) {
			h.logger.Warn("webhook for unknown reference", "provider", provider)
		} else {
			h.logger.Error("h.bookings.HandleWebhook()", "provider", provider, "error", err)
		}
	}

	return h.ack(e)
}

// PayoutResult - POST /payments/mpesa/payout-result
func (h *WebhookHandler) PayoutResult(e *core.RequestEvent) error {
	body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("read payout result body", "error", err)
		return h.ack(e)
	}

	ctx := e.Request.Context()
	if err := h.bookings.HandlePayoutResult(ctx, body); err != nil {
		h.logger.Error("h.bookings.HandlePayoutResult()", "error", err)
	}

	return h.ack(e)
}

func (h *WebhookHandler) ack(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

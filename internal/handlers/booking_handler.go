package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"tikiti/internal/services"
	"tikiti/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type BookingHandler struct {
	bookings *services.BookingService
	logger   *slog.Logger
}

func NewBookingHandler(bookings *services.BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// CreateBooking - reserve seats and initiate payment
func (h *BookingHandler) CreateBooking(e *core.RequestEvent) error {
	var req services.CreateBookingRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	ctx := e.Request.Context()
	result, err := h.bookings.CreateBooking(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrUnknownEvent):
			return apis.NewNotFoundError("Event not found", nil)
		case errors.Is(err, status.ErrInvalidQuantity):
			return apis.NewBadRequestError("Invalid ticket quantity", nil)
		case errors.Is(err, status.ErrEventNotOnSale):
			return apis.NewBadRequestError("Event is not on sale", nil)
		case errors.Is(err, status.ErrInsufficientInventory):
			return e.JSON(http.StatusConflict, map[string]any{
				"status":  "sold_out",
				"message": "Not enough tickets remaining",
			})
		}
		h.logger.Error("h.bookings.CreateBooking()", "eventId", req.EventID, "error", err)
		return apis.NewBadRequestError("Could not create booking", nil)
	}

	resp := map[string]any{
		"status":         "success",
		"booking_id":     result.Booking.ID,
		"payment_status": result.Booking.PaymentStatus,
		"total_price":    result.Booking.TotalPrice,
	}
	if result.RedirectURL != "" {
		resp["redirect_url"] = result.RedirectURL
	}
	if result.CustomerMessage != "" {
		resp["customer_message"] = result.CustomerMessage
	}

	return e.JSON(http.StatusCreated, resp)
}

// GetBooking - full booking details including tickets once completed
func (h *BookingHandler) GetBooking(e *core.RequestEvent) error {
	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	booking, err := h.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return apis.NewNotFoundError("Booking not found", nil)
		}
		h.logger.Error("h.bookings.GetBooking()", "bookingId", bookingID, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	return e.JSON(http.StatusOK, booking)
}

// GetBookingStatus - lightweight status endpoint for the waiting screen
func (h *BookingHandler) GetBookingStatus(e *core.RequestEvent) error {
	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	paymentStatus, err := h.bookings.GetBookingStatus(ctx, bookingID)
	if err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return apis.NewNotFoundError("Booking not found", nil)
		}
		h.logger.Error("h.bookings.GetBookingStatus()", "bookingId", bookingID, "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"status": paymentStatus})
}

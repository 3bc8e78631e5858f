package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"tikiti/internal/repo"
	"tikiti/internal/services"
	"tikiti/internal/status"
	"tikiti/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// AdminHandler exposes the operator surface: stuck-payment re-triggers,
// payout retries and commission settings. Routes are bound behind the admin
// key middleware.
type AdminHandler struct {
	bookings *services.BookingService
	settings *repo.SettingsRepo
	logger   *slog.Logger
}

func NewAdminHandler(bookings *services.BookingService, settings *repo.SettingsRepo, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{bookings: bookings, settings: settings, logger: logger}
}

// RetryPoll - restart the status poller for a stuck processing booking
func (h *AdminHandler) RetryPoll(e *core.RequestEvent) error {
	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	if err := h.bookings.RetryPoll(ctx, bookingID); err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return apis.NewNotFoundError("Booking not found", nil)
		}
		return apis.NewBadRequestError(err.Error(), nil)
	}

	h.logger.Info("admin retriggered poll", "bookingId", bookingID)
	return e.JSON(http.StatusOK, map[string]any{"status": "polling"})
}

// RetryPayout - re-run a failed organizer payout
func (h *AdminHandler) RetryPayout(e *core.RequestEvent) error {
	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	if err := h.bookings.RetryPayout(ctx, bookingID); err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return apis.NewNotFoundError("Booking not found", nil)
		}
		return apis.NewBadRequestError(err.Error(), nil)
	}

	h.logger.Info("admin retriggered payout", "bookingId", bookingID)
	return e.JSON(http.StatusOK, map[string]any{"status": "payout_retried"})
}

// ReissueTickets - top up a completed booking whose issuance failed mid-way
func (h *AdminHandler) ReissueTickets(e *core.RequestEvent) error {
	bookingID := e.Request.PathValue("bookingId")
	ctx := e.Request.Context()

	tickets, err := h.bookings.ReissueTickets(ctx, bookingID)
	if err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return apis.NewNotFoundError("Booking not found", nil)
		}
		return apis.NewBadRequestError(err.Error(), nil)
	}

	h.logger.Info("admin reissued tickets", "bookingId", bookingID, "count", len(tickets))
	return e.JSON(http.StatusOK, map[string]any{"status": "issued", "count": len(tickets)})
}

// GetCommissionSettings - current commission configuration
func (h *AdminHandler) GetCommissionSettings(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	settings, err := h.settings.Current(ctx)
	if err != nil {
		h.logger.Error("h.settings.Current()", "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	return e.JSON(http.StatusOK, settings)
}

type updateSettingsReq struct {
	Rate       decimal.Decimal `json:"rate"`
	MinimumFee decimal.Decimal `json:"minimum_fee"`
	MaximumFee decimal.Decimal `json:"maximum_fee"`
	Active     bool            `json:"active"`
}

// UpdateCommissionSettings - replace the commission configuration. Applies to
// payments settling after the update; already-completed bookings keep the
// rate they were charged.
func (h *AdminHandler) UpdateCommissionSettings(e *core.RequestEvent) error {
	var req updateSettingsReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if req.Rate.IsNegative() || req.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return apis.NewBadRequestError("rate must be between 0 and 1", nil)
	}
	if req.MinimumFee.IsNegative() || req.MaximumFee.IsNegative() {
		return apis.NewBadRequestError("fees must not be negative", nil)
	}
	if req.MaximumFee.IsPositive() && req.MaximumFee.LessThan(req.MinimumFee) {
		return apis.NewBadRequestError("maximum_fee must not be below minimum_fee", nil)
	}

	ctx := e.Request.Context()
	settings := &models.CommissionSettings{
		Rate:       req.Rate,
		MinimumFee: req.MinimumFee,
		MaximumFee: req.MaximumFee,
		Active:     req.Active,
	}
	if err := h.settings.Update(ctx, settings); err != nil {
		h.logger.Error("h.settings.Update()", "error", err)
		return apis.NewInternalServerError("internal error", nil)
	}

	h.logger.Info("commission settings updated",
		"rate", req.Rate, "min", req.MinimumFee, "max", req.MaximumFee, "active", req.Active)
	return e.JSON(http.StatusOK, settings)
}

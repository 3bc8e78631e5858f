package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tikiti/internal/notify"
	"tikiti/internal/services/gateway"
	"tikiti/internal/services/gateway/mpesa"
	"tikiti/internal/status"
	"tikiti/models"
	"tikiti/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal sources racing to settle a processing booking.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// EventStore is the inventory ledger surface the coordinator needs.
type EventStore interface {
	Get(ctx context.Context, id string) (*models.Event, error)
	Reserve(ctx context.Context, eventID string, quantity int) error
	Release(ctx context.Context, eventID string, quantity int) error
}

// BookingStore persists bookings; the CAS methods report whether the
// transition was applied.
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking) error
	Get(ctx context.Context, id string) (*models.Booking, error)
	GetByProviderRef(ctx context.Context, ref string) (*models.Booking, error)
	GetByPayoutRef(ctx context.Context, ref string) (*models.Booking, error)
	MarkProcessing(ctx context.Context, id, providerRef string) error
	MarkInitiationFailed(ctx context.Context, id string) error
	CompleteCAS(ctx context.Context, id string, fee, organizer, rate decimal.Decimal, completedAt time.Time) (bool, error)
	FailCAS(ctx context.Context, id string) (bool, error)
	SetPayoutPending(ctx context.Context, id, payoutRef string) error
	ResolvePayoutCAS(ctx context.Context, id, payoutStatus string) (bool, error)
	MarkPayoutFailed(ctx context.Context, id string) error
	ListProcessing(ctx context.Context) ([]*models.Booking, error)
	ListPending(ctx context.Context) ([]*models.Booking, error)
}

type SettingsStore interface {
	Current(ctx context.Context) (*models.CommissionSettings, error)
}

type TicketIssuer interface {
	IssueTickets(ctx context.Context, booking *models.Booking) ([]*models.Ticket, error)
}

// AttemptTracker carries the transient per-payment reconciliation state.
type AttemptTracker interface {
	Start(ctx context.Context, bookingID, provider, ref string) error
	Get(ctx context.Context, bookingID string) (*PaymentAttempt, error)
	IncrPolls(ctx context.Context, bookingID string) (int64, error)
	Finish(ctx context.Context, bookingID string) error
	CacheStatus(ctx context.Context, bookingID, paymentStatus string, ttl time.Duration) error
	CachedStatus(ctx context.Context, bookingID string) (string, error)
	InvalidateStatus(ctx context.Context, bookingID string) error
}

// PayoutClient initiates organizer disbursements and decodes their result
// callbacks.
type PayoutClient interface {
	Payout(ctx context.Context, req *mpesa.PayoutRequest) (string, error)
	ParsePayoutResult(payload []byte) (*status.Transaction, error)
}

// BookingService is the reconciliation coordinator. It owns every booking
// state transition; webhook deliveries and poll results funnel into the same
// compare-and-set guarded Reconcile, which makes the race between the two
// signal sources safe without locks.
type BookingService struct {
	events   EventStore
	bookings BookingStore
	settings SettingsStore
	tickets  TicketIssuer
	attempts AttemptTracker
	gateways *gateway.Registry
	payouts  PayoutClient
	notifier notify.Notifier

	pollSchedule    []time.Duration
	callbackBaseURL string
	statusCacheTTL  time.Duration

	// baseCtx bounds background poll watchers; request contexts die with the
	// request, the watchers must not.
	baseCtx context.Context

	logger *slog.Logger
}

type BookingServiceOpts struct {
	Events   EventStore
	Bookings BookingStore
	Settings SettingsStore
	Tickets  TicketIssuer
	Attempts AttemptTracker
	Gateways *gateway.Registry
	Payouts  PayoutClient
	Notifier notify.Notifier

	PollSchedule    []time.Duration
	CallbackBaseURL string
	StatusCacheTTL  time.Duration

	Logger *slog.Logger
}

func NewBookingService(ctx context.Context, opts BookingServiceOpts) *BookingService {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	return &BookingService{
		events:   opts.Events,
		bookings: opts.Bookings,
		settings: opts.Settings,
		tickets:  opts.Tickets,
		attempts: opts.Attempts,
		gateways: opts.Gateways,
		payouts:  opts.Payouts,
		notifier: notifier,

		pollSchedule:    opts.PollSchedule,
		callbackBaseURL: opts.CallbackBaseURL,
		statusCacheTTL:  opts.StatusCacheTTL,

		baseCtx: ctx,
		logger:  opts.Logger,
	}
}

type CreateBookingRequest struct {
	EventID       string `json:"event_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	Quantity      int    `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
}

type CreateBookingResult struct {
	Booking *models.Booking `json:"booking"`

	// RedirectURL is set for redirect providers; the UI must send the buyer
	// there.
	RedirectURL string `json:"redirect_url,omitempty"`

	// CustomerMessage is the provider's hint for the waiting screen.
	CustomerMessage string `json:"customer_message,omitempty"`
}

// maxTicketsPerBooking keeps a single buyer from draining an event.
const maxTicketsPerBooking = 10

// CreateBooking reserves inventory, persists the booking and initiates
// payment synchronously. Everything after a successful initiation resolves
// asynchronously through Reconcile.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResult, error) {
	if req.Quantity <= 0 || req.Quantity > maxTicketsPerBooking {
		monitoring.BookingRejected("invalid_quantity")
		return nil, status.ErrInvalidQuantity
	}
	if !models.ValidMethod(req.PaymentMethod) {
		monitoring.BookingRejected("invalid_method")
		return nil, fmt.Errorf("createBooking: unsupported payment method %q", req.PaymentMethod)
	}

	event, err := s.events.Get(ctx, req.EventID)
	if err != nil {
		monitoring.BookingRejected("unknown_event")
		return nil, err
	}
	if !event.OnSale() {
		monitoring.BookingRejected("not_on_sale")
		return nil, status.ErrEventNotOnSale
	}

	// Seats are held from here until the payment settles or terminally fails.
	if err := s.events.Reserve(ctx, event.ID, req.Quantity); err != nil {
		monitoring.BookingRejected("insufficient_inventory")
		return nil, err
	}

	total := event.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	booking := &models.Booking{
		ID:            uuid.NewString(),
		EventID:       event.ID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Quantity:      req.Quantity,
		TotalPrice:    total,
		PaymentStatus: models.PaymentPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     time.Now(),
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		if relErr := s.events.Release(ctx, event.ID, req.Quantity); relErr != nil {
			s.logger.Error("release after create failure", "eventId", event.ID, "error", relErr)
		}
		return nil, fmt.Errorf("createBooking: %w", err)
	}

	provider := gateway.Provider(req.PaymentMethod)
	gw, err := s.gateways.Get(provider)
	if err != nil {
		s.abandonPending(ctx, booking)
		return nil, fmt.Errorf("createBooking: %w", err)
	}

	first, last := splitName(booking.CustomerName)
	started := time.Now()
	initiated, err := gw.Initiate(ctx, &gateway.InitiateRequest{
		BookingID:   booking.ID,
		Amount:      total,
		Phone:       booking.CustomerPhone,
		Email:       booking.CustomerEmail,
		FirstName:   first,
		LastName:    last,
		Description: fmt.Sprintf("%d ticket(s) for %s", booking.Quantity, event.Name),
		CallbackURL: s.webhookURL(provider),
	})
	monitoring.ObserveInitiation(string(provider), time.Since(started))
	if err != nil {
		// Nothing was charged and nothing will call back; fail and free the
		// seats right away.
		s.abandonPending(ctx, booking)
		return nil, fmt.Errorf("createBooking: initiate: %w", err)
	}

	// The attempt record goes in first: it keeps the correlation id reachable
	// even if the processing write below fails, so the startup sweep can put
	// the booking back on track.
	if err := s.attempts.Start(ctx, booking.ID, string(provider), initiated.Ref); err != nil {
		s.logger.Error("attempt tracking unavailable", "bookingId", booking.ID, "error", err)
	}

	if err := s.markProcessing(ctx, booking.ID, initiated.Ref); err != nil {
		// The provider already accepted the charge, so the seats must stay
		// held and the correlation id must eventually land. Recovery keeps
		// retrying off the request path.
		s.logger.Error("record processing transition", "bookingId", booking.ID, "error", err)
		go s.recoverPending(booking.ID, provider, initiated.Ref)
	} else {
		booking.PaymentStatus = models.PaymentProcessing
		booking.ProviderRef = initiated.Ref
		go s.watchPayment(booking.ID, provider, initiated.Ref)
	}

	monitoring.BookingCreated(req.PaymentMethod)
	s.logger.Info("booking created, payment initiated",
		"bookingId", booking.ID, "eventId", event.ID, "method", req.PaymentMethod, "ref", initiated.Ref)

	return &CreateBookingResult{
		Booking:         booking,
		RedirectURL:     initiated.RedirectURL,
		CustomerMessage: initiated.CustomerMessage,
	}, nil
}

// abandonPending fails a booking that never reached the provider and returns
// its seats.
func (s *BookingService) abandonPending(ctx context.Context, booking *models.Booking) {
	if err := s.bookings.MarkInitiationFailed(ctx, booking.ID); err != nil {
		s.logger.Error("mark initiation failed", "bookingId", booking.ID, "error", err)
	}
	if err := s.events.Release(ctx, booking.EventID, booking.Quantity); err != nil {
		s.logger.Error("release after initiation failure", "bookingId", booking.ID, "error", err)
	}
	monitoring.ReconciliationApplied(booking.PaymentMethod, "initiation", "failed")
}

const markProcessingRetries = 3

// markProcessing retries the pending -> processing write through transient
// store hiccups. The correlation id must land or later webhook and poll
// signals cannot be matched to the booking.
func (s *BookingService) markProcessing(ctx context.Context, bookingID, ref string) error {
	var err error
	for attempt := 0; attempt < markProcessingRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		if err = s.bookings.MarkProcessing(ctx, bookingID, ref); err == nil {
			return nil
		}
	}
	return err
}

// recoverPending keeps retrying the processing write for a booking whose
// initiation succeeded but whose correlation id never landed, paced by the
// poll schedule. If the store stays down, the startup sweep picks the booking
// up after the next restart.
func (s *BookingService) recoverPending(bookingID string, provider gateway.Provider, ref string) {
	ctx := s.baseCtx

	for _, delay := range s.pollSchedule {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := s.bookings.MarkProcessing(ctx, bookingID, ref); err != nil {
			s.logger.Warn("recoverPending: record processing transition",
				"bookingId", bookingID, "error", err)
			continue
		}

		s.logger.Info("recovered pending booking", "bookingId", bookingID, "ref", ref)
		s.watchPayment(bookingID, provider, ref)
		return
	}

	s.logger.Error("pending booking not recovered, startup sweep will retry",
		"bookingId", bookingID, "ref", ref)
}

// stalePendingGrace shields bookings that are still mid-creation from the
// sweep.
const stalePendingGrace = time.Minute

// SweepStalePending resolves bookings stranded in pending by a crash between
// initiation and the processing write. When the attempt record still carries
// the correlation id the booking resumes normally; without one no provider
// signal can ever be matched to it, so the only exit is failing it and
// returning the seats.
func (s *BookingService) SweepStalePending(ctx context.Context) error {
	pending, err := s.bookings.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("sweepStalePending: %w", err)
	}

	for _, booking := range pending {
		if time.Since(booking.CreatedAt) < stalePendingGrace {
			continue
		}

		attempt, err := s.attempts.Get(ctx, booking.ID)
		if err != nil {
			s.logger.Error("sweepStalePending: load attempt", "bookingId", booking.ID, "error", err)
			continue
		}

		if attempt != nil && attempt.Ref != "" {
			if err := s.bookings.MarkProcessing(ctx, booking.ID, attempt.Ref); err != nil {
				s.logger.Error("sweepStalePending: record processing transition",
					"bookingId", booking.ID, "error", err)
				continue
			}
			s.logger.Info("recovered stale pending booking",
				"bookingId", booking.ID, "ref", attempt.Ref)
			go s.watchPayment(booking.ID, gateway.Provider(attempt.Provider), attempt.Ref)
			continue
		}

		s.logger.Warn("abandoning stale pending booking, no correlation id recorded",
			"bookingId", booking.ID)
		s.abandonPending(ctx, booking)
	}

	return nil
}

func (s *BookingService) webhookURL(provider gateway.Provider) string {
	return fmt.Sprintf("%s/api/v1/payments/%s/webhook", s.callbackBaseURL, provider)
}

// watchPayment polls the provider on the bounded schedule until a terminal
// answer, cancellation, or budget exhaustion. Exhaustion leaves the booking
// in processing on purpose: the webhook may still legitimately arrive, and a
// slow provider must not look like a declined payment.
func (s *BookingService) watchPayment(bookingID string, provider gateway.Provider, ref string) {
	ctx := s.baseCtx

	gw, err := s.gateways.Get(provider)
	if err != nil {
		s.logger.Error("watchPayment: no gateway", "provider", provider, "error", err)
		return
	}

	for _, delay := range s.pollSchedule {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		booking, err := s.bookings.Get(ctx, bookingID)
		if err != nil {
			s.logger.Error("watchPayment: load booking", "bookingId", bookingID, "error", err)
			continue
		}
		if booking.Terminal() {
			// The webhook won the race while we were sleeping.
			return
		}

		if _, err := s.attempts.IncrPolls(ctx, bookingID); err != nil {
			s.logger.Warn("watchPayment: poll counter", "bookingId", bookingID, "error", err)
		}

		tx, err := gw.CheckTransaction(ctx, ref)
		if err != nil {
			if !errors.Is(err, status.ErrStillPending) {
				s.logger.Warn("watchPayment: check failed", "bookingId", bookingID, "error", err)
			}
			continue
		}
		if !tx.Terminal() {
			continue
		}

		if err := s.Reconcile(ctx, SourcePoll, tx); err != nil {
			s.logger.Error("watchPayment: reconcile", "bookingId", bookingID, "error", err)
		}
		return
	}

	monitoring.PollBudgetExhausted()
	s.logger.Info("poll budget exhausted, leaving booking processing",
		"bookingId", bookingID, "provider", provider)
}

// HandleWebhook normalizes a provider callback and feeds it into Reconcile.
// Non-terminal signals are acknowledged and dropped.
func (s *BookingService) HandleWebhook(ctx context.Context, provider gateway.Provider, payload []byte) error {
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return fmt.Errorf("handleWebhook: %w", err)
	}

	tx, err := gw.ParseWebhook(ctx, payload)
	if err != nil {
		return fmt.Errorf("handleWebhook: %w", err)
	}
	if !tx.Terminal() {
		return nil
	}

	return s.Reconcile(ctx, SourceWebhook, tx)
}

// Reconcile applies one terminal provider signal. The booking's status column
// is the single source of truth: the underlying compare-and-set update either
// wins the transition or reports that someone else already did, in which case
// the signal is discarded silently.
func (s *BookingService) Reconcile(ctx context.Context, source string, tx *status.Transaction) error {
	if !tx.Terminal() {
		return nil
	}

	booking, err := s.bookings.GetByProviderRef(ctx, tx.Ref)
	if err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return fmt.Errorf("reconcile: %w: %s", status.ErrRefNotFound, tx.Ref)
		}
		return fmt.Errorf("reconcile: %w", err)
	}

	if tx.State == status.StateCompleted {
		return s.complete(ctx, booking, source)
	}
	return s.fail(ctx, booking, source, tx.Reason)
}

func (s *BookingService) complete(ctx context.Context, booking *models.Booking, source string) error {
	settings, err := s.settings.Current(ctx)
	if err != nil {
		// Retryable: the provider redelivers webhooks and the poller is
		// still running.
		return fmt.Errorf("complete: %w", err)
	}
	breakdown := CalculateCommission(booking.TotalPrice, settings)

	completedAt := time.Now()
	applied, err := s.bookings.CompleteCAS(ctx, booking.ID,
		breakdown.Fee, breakdown.OrganizerAmount, breakdown.AppliedRate, completedAt)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if !applied {
		monitoring.DuplicateSignal(booking.PaymentMethod, source)
		s.logger.Debug("duplicate completion signal discarded",
			"bookingId", booking.ID, "source", source)
		return nil
	}

	booking.PaymentStatus = models.PaymentCompleted
	booking.CommissionFee = breakdown.Fee
	booking.OrganizerAmount = breakdown.OrganizerAmount
	booking.CommissionRate = breakdown.AppliedRate
	booking.CompletedAt = &completedAt

	monitoring.ReconciliationApplied(booking.PaymentMethod, source, "completed")
	s.cleanupAttempt(ctx, booking.ID)

	tickets, err := s.tickets.IssueTickets(ctx, booking)
	if err != nil {
		// The completion already won; issuance is idempotent, so
		// ReissueTickets tops the booking up to its full ticket count.
		s.logger.Error("ticket issuance failed", "bookingId", booking.ID, "error", err)
	}
	monitoring.TicketsIssued(len(tickets))

	event, err := s.events.Get(ctx, booking.EventID)
	if err != nil {
		s.logger.Error("load event for notification", "bookingId", booking.ID, "error", err)
		event = &models.Event{ID: booking.EventID}
	}

	s.logger.Info("booking completed", "bookingId", booking.ID, "source", source,
		"fee", breakdown.Fee, "organizer", breakdown.OrganizerAmount)
	s.notifier.PaymentCompleted(ctx, booking, event, tickets)

	s.initiatePayout(ctx, booking, event)

	return nil
}

func (s *BookingService) fail(ctx context.Context, booking *models.Booking, source, reason string) error {
	applied, err := s.bookings.FailCAS(ctx, booking.ID)
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	if !applied {
		monitoring.DuplicateSignal(booking.PaymentMethod, source)
		s.logger.Debug("duplicate failure signal discarded",
			"bookingId", booking.ID, "source", source)
		return nil
	}

	// Winning the failed transition releases the seats, exactly once.
	if err := s.events.Release(ctx, booking.EventID, booking.Quantity); err != nil {
		s.logger.Error("release after failure", "bookingId", booking.ID, "error", err)
	}

	booking.PaymentStatus = models.PaymentFailed
	monitoring.ReconciliationApplied(booking.PaymentMethod, source, "failed")
	s.cleanupAttempt(ctx, booking.ID)

	s.logger.Info("booking failed", "bookingId", booking.ID, "source", source, "reason", reason)
	s.notifier.PaymentFailed(ctx, booking, reason)

	return nil
}

func (s *BookingService) cleanupAttempt(ctx context.Context, bookingID string) {
	if err := s.attempts.Finish(ctx, bookingID); err != nil {
		s.logger.Warn("attempt cleanup", "bookingId", bookingID, "error", err)
	}
	if err := s.attempts.InvalidateStatus(ctx, bookingID); err != nil {
		s.logger.Warn("status cache invalidation", "bookingId", bookingID, "error", err)
	}
}

// initiatePayout sends the organizer their share. Best effort: failures land
// in payout_failed and are re-triggered by an operator, never retried in a
// loop.
func (s *BookingService) initiatePayout(ctx context.Context, booking *models.Booking, event *models.Event) {
	if s.payouts == nil || event == nil || event.OrganizerPhone == "" {
		return
	}
	if !booking.OrganizerAmount.IsPositive() {
		return
	}

	ref, err := s.payouts.Payout(ctx, &mpesa.PayoutRequest{
		Phone:     event.OrganizerPhone,
		Amount:    booking.OrganizerAmount,
		Remarks:   "ticket sales " + event.Name,
		ResultURL: s.callbackBaseURL + "/api/v1/payments/mpesa/payout-result",
	})
	if err != nil {
		s.logger.Error("payout initiation failed", "bookingId", booking.ID, "error", err)
		if markErr := s.bookings.MarkPayoutFailed(ctx, booking.ID); markErr != nil {
			s.logger.Error("mark payout failed", "bookingId", booking.ID, "error", markErr)
		}
		monitoring.PayoutResult("initiation_failed")
		return
	}

	if err := s.bookings.SetPayoutPending(ctx, booking.ID, ref); err != nil {
		s.logger.Error("record payout attempt", "bookingId", booking.ID, "error", err)
	}
}

// HandlePayoutResult decodes a disbursement result callback and settles the
// matching payout.
func (s *BookingService) HandlePayoutResult(ctx context.Context, payload []byte) error {
	if s.payouts == nil {
		return nil
	}

	tx, err := s.payouts.ParsePayoutResult(payload)
	if err != nil {
		return fmt.Errorf("handlePayoutResult: %w", err)
	}

	return s.ResolvePayout(ctx, tx)
}

// ResolvePayout settles a pending payout from the provider's result callback.
// Buyer-facing payment status is untouched.
func (s *BookingService) ResolvePayout(ctx context.Context, tx *status.Transaction) error {
	booking, err := s.bookings.GetByPayoutRef(ctx, tx.Ref)
	if err != nil {
		return fmt.Errorf("resolvePayout: %w", err)
	}

	result := models.PayoutCompleted
	if tx.State != status.StateCompleted {
		result = models.PayoutFailed
	}

	applied, err := s.bookings.ResolvePayoutCAS(ctx, booking.ID, result)
	if err != nil {
		return fmt.Errorf("resolvePayout: %w", err)
	}
	if !applied {
		s.logger.Debug("duplicate payout signal discarded", "bookingId", booking.ID)
		return nil
	}

	monitoring.PayoutResult(result)
	s.logger.Info("payout resolved", "bookingId", booking.ID, "result", result, "receipt", tx.Receipt)

	return nil
}

// RetryPayout re-runs a failed payout, operator-triggered.
func (s *BookingService) RetryPayout(ctx context.Context, bookingID string) error {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PaymentStatus != models.PaymentCompleted {
		return fmt.Errorf("retryPayout: booking %s is not completed", bookingID)
	}
	if booking.PayoutStatus == models.PayoutCompleted || booking.PayoutStatus == models.PayoutPending {
		return fmt.Errorf("retryPayout: booking %s payout already %s", bookingID, booking.PayoutStatus)
	}

	event, err := s.events.Get(ctx, booking.EventID)
	if err != nil {
		return err
	}

	s.initiatePayout(ctx, booking, event)
	return nil
}

// ReissueTickets re-runs issuance for a completed booking, operator-triggered
// after an issuance failure during completion. Existing tickets are kept and
// only the shortfall is generated.
func (s *BookingService) ReissueTickets(ctx context.Context, bookingID string) ([]*models.Ticket, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus != models.PaymentCompleted {
		return nil, fmt.Errorf("reissueTickets: booking %s is not completed", bookingID)
	}

	tickets, err := s.tickets.IssueTickets(ctx, booking)
	if err != nil {
		return nil, fmt.Errorf("reissueTickets: %w", err)
	}

	s.logger.Info("tickets reissued", "bookingId", bookingID, "count", len(tickets))
	return tickets, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.bookings.Get(ctx, bookingID)
}

// GetBookingStatus serves the UI's progress polling through a short-lived
// cache.
func (s *BookingService) GetBookingStatus(ctx context.Context, bookingID string) (string, error) {
	if cached, err := s.attempts.CachedStatus(ctx, bookingID); err == nil && cached != "" {
		return cached, nil
	}

	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return "", err
	}

	if err := s.attempts.CacheStatus(ctx, bookingID, booking.PaymentStatus, s.statusCacheTTL); err != nil {
		s.logger.Warn("status cache write", "bookingId", bookingID, "error", err)
	}

	return booking.PaymentStatus, nil
}

// ResumeProcessing restarts poll watchers for bookings that were mid-flight
// when the process died. A processing booking with no watcher still settles
// via webhook; this just restores the second signal source.
func (s *BookingService) ResumeProcessing(ctx context.Context) error {
	processing, err := s.bookings.ListProcessing(ctx)
	if err != nil {
		return fmt.Errorf("resumeProcessing: %w", err)
	}

	for _, booking := range processing {
		if booking.ProviderRef == "" {
			continue
		}
		s.logger.Info("resuming poll watcher", "bookingId", booking.ID, "method", booking.PaymentMethod)
		go s.watchPayment(booking.ID, gateway.Provider(booking.PaymentMethod), booking.ProviderRef)
	}

	return nil
}

// RetryPoll restarts the watcher for one stuck booking, operator-triggered.
func (s *BookingService) RetryPoll(ctx context.Context, bookingID string) error {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.PaymentStatus != models.PaymentProcessing {
		return fmt.Errorf("retryPoll: booking %s is not processing", bookingID)
	}
	if booking.ProviderRef == "" {
		return fmt.Errorf("retryPoll: booking %s has no correlation id", bookingID)
	}

	go s.watchPayment(booking.ID, gateway.Provider(booking.PaymentMethod), booking.ProviderRef)
	return nil
}

// splitName turns a free-form customer name into the first/last pair redirect
// providers insist on.
func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

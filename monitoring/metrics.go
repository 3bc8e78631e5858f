package monitoring

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Bookings accepted at creation, by payment method",
		},
		[]string{"method"},
	)

	bookingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookings_rejected_total",
			Help: "Bookings rejected synchronously, by reason",
		},
		[]string{"reason"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Terminal reconciliation signals applied, by provider, source and result",
		},
		[]string{"provider", "source", "result"},
	)

	duplicateSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_duplicate_signals_total",
			Help: "Terminal signals discarded because the booking already settled",
		},
		[]string{"provider", "source"},
	)

	pollBudgetExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_poll_budget_exhausted_total",
			Help: "Poll loops that gave up without a terminal signal",
		},
	)

	initiationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_initiation_duration_seconds",
			Help:    "Latency of provider payment initiation",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider"},
	)

	payouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "organizer_payouts_total",
			Help: "Organizer payout outcomes",
		},
		[]string{"result"},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets issued for completed bookings",
		},
	)
)

func BookingCreated(method string) {
	bookingsCreated.WithLabelValues(method).Inc()
}

func BookingRejected(reason string) {
	bookingsRejected.WithLabelValues(reason).Inc()
}

func ReconciliationApplied(provider, source, result string) {
	reconciliations.WithLabelValues(provider, source, result).Inc()
}

func DuplicateSignal(provider, source string) {
	duplicateSignals.WithLabelValues(provider, source).Inc()
}

func PollBudgetExhausted() {
	pollBudgetExhausted.Inc()
}

func ObserveInitiation(provider string, d time.Duration) {
	initiationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func PayoutResult(result string) {
	payouts.WithLabelValues(result).Inc()
}

func TicketsIssued(n int) {
	ticketsIssued.Add(float64(n))
}

// Serve exposes /metrics on its own port, separate from the app router.
func Serve(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics server listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

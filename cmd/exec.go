package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tikiti/config"
	"tikiti/internal/handlers"
	"tikiti/internal/notify"
	"tikiti/internal/repo"
	"tikiti/internal/services"
	"tikiti/internal/services/gateway"
	"tikiti/internal/services/gateway/mpesa"
	"tikiti/internal/services/gateway/pesapal"
	"tikiti/models"
	"tikiti/monitoring"
	"tikiti/security"
	"tikiti/utils"

	_ "tikiti/migrations"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func Start() error {
	app := pocketbase.New()
	cfg := config.LoadConfig()
	logger := slog.Default()

	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUUID))
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey
		notifier = notify.NewPubNubNotifier(pubnub.NewPubNub(pnConfig), logger)
	}

	mpesaGW, err := mpesa.New(ctx, &cfg.Mpesa)
	if err != nil {
		return err
	}
	pesapalGW, err := pesapal.New(ctx, &cfg.Pesapal)
	if err != nil {
		return err
	}

	registry := gateway.NewRegistry()
	registry.Register(mpesaGW)
	registry.Register(pesapalGW)
	defer registry.Close(context.Background())
	logger.Info("payment gateways registered", "providers", registry.Providers())

	attempts := services.NewAttemptStore(redisClient)
	rateLimiter := security.NewRateLimiter(redisClient, 10, time.Minute)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	go handleShutdown(cancel, logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.EnableMetrics {
		g.Go(func() error {
			monitoring.Serve(cfg.MetricsPort, logger)
			return nil
		})
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		db := app.DB()
		eventRepo := repo.NewEventRepo(db)
		bookingRepo := repo.NewBookingRepo(db)
		ticketRepo := repo.NewTicketRepo(db)
		settingsRepo := repo.NewSettingsRepo(db)

		if err := settingsRepo.EnsureDefault(gctx, &models.CommissionSettings{
			Rate:       decimal.NewFromFloat(cfg.CommissionRate),
			MinimumFee: decimal.NewFromFloat(cfg.CommissionMin),
			MaximumFee: decimal.NewFromFloat(cfg.CommissionMax),
			Active:     true,
		}); err != nil {
			return err
		}

		ticketService := services.NewTicketService(ticketRepo, logger)
		bookingService := services.NewBookingService(gctx, services.BookingServiceOpts{
			Events:   eventRepo,
			Bookings: bookingRepo,
			Settings: settingsRepo,
			Tickets:  ticketService,
			Attempts: attempts,
			Gateways: registry,
			Payouts:  mpesaGW,
			Notifier: notifier,

			PollSchedule:    cfg.PollSchedule,
			CallbackBaseURL: cfg.CallbackBaseURL,
			StatusCacheTTL:  cfg.StatusCacheTTL,

			Logger: logger,
		})

		bookingHandler := handlers.NewBookingHandler(bookingService, logger)
		webhookHandler := handlers.NewWebhookHandler(bookingService, logger)
		adminHandler := handlers.NewAdminHandler(bookingService, settingsRepo, logger)

		// Bookings in flight when the previous process died get their poll
		// watchers back; bookings stranded in pending are recovered from their
		// attempt records or abandoned.
		go func() {
			if err := bookingService.SweepStalePending(gctx); err != nil {
				logger.Error("sweep stale pending bookings", "error", err)
			}
			if err := bookingService.ResumeProcessing(gctx); err != nil {
				logger.Error("resume processing bookings", "error", err)
			}
		}()

		// Booking endpoints
		e.Router.POST("/api/v1/bookings", bookingHandler.CreateBooking).
			Bind(rateLimiter.BookingRateLimit())
		e.Router.GET("/api/v1/bookings/{bookingId}", bookingHandler.GetBooking)
		e.Router.GET("/api/v1/bookings/{bookingId}/status", bookingHandler.GetBookingStatus)

		// Provider callbacks
		e.Router.POST("/api/v1/payments/{provider}/webhook", webhookHandler.PaymentCallback)
		e.Router.POST("/api/v1/payments/mpesa/payout-result", webhookHandler.PayoutResult)

		// Admin endpoints
		adminKey := security.RequireAdminKey(cfg.AdminKeyHash)
		e.Router.POST("/api/v1/admin/bookings/{bookingId}/retry-poll", adminHandler.RetryPoll).Bind(adminKey)
		e.Router.POST("/api/v1/admin/bookings/{bookingId}/retry-payout", adminHandler.RetryPayout).Bind(adminKey)
		e.Router.POST("/api/v1/admin/bookings/{bookingId}/reissue-tickets", adminHandler.ReissueTickets).Bind(adminKey)
		e.Router.GET("/api/v1/admin/commission-settings", adminHandler.GetCommissionSettings).Bind(adminKey)
		e.Router.PUT("/api/v1/admin/commission-settings", adminHandler.UpdateCommissionSettings).Bind(adminKey)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(e.Request.Context(), redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		logger.Info("server routes registered", "port", cfg.Port, "environment", cfg.Environment)

		return e.Next()
	})

	if err := app.Start(); err != nil {
		return err
	}

	cancel()
	return g.Wait()
}

func handleShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutdown signal received, cleaning up")
	cancel()
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/smartcare/billing/api"
	"github.com/smartcare/billing/cache"
	"github.com/smartcare/billing/config"
	"github.com/smartcare/billing/db"
	"github.com/smartcare/billing/notifications"
	"github.com/smartcare/billing/providers"
	"github.com/smartcare/billing/services"
	"github.com/smartcare/billing/stores"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "billing").Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	gormDB, err := db.Connect(cfg.GetDatabaseURL(), db.DefaultPoolConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get database instance")
	}
	defer sqlDB.Close()

	if err := db.Migrate(gormDB); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database schema")
	}
	logger.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Msg("connected to database")

	var deduper notifications.Deduper
	redisCache, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, reminder dedup disabled")
	} else {
		defer redisCache.Close()
		deduper = redisCache
		logger.Info().Str("addr", cfg.GetRedisAddr()).Msg("connected to redis")
	}

	gateway := providers.CreateStripeGateway(cfg.Stripe.Secret, cfg.Payment.GatewayTimeout)

	invoiceStore := stores.CreateInvoiceStore(gormDB)
	paymentStore := stores.CreatePaymentStore(gormDB)
	methodStore := stores.CreatePaymentMethodStore(gormDB)
	customerStore := stores.CreateCustomerStore(gormDB)
	taskStore := stores.CreateNotificationTaskStore(gormDB)
	webhookStore := stores.CreateWebhookStore(gormDB)
	userDirectory := stores.CreateUserDirectory(gormDB)
	appointments := stores.CreateAppointmentDirectory(gormDB)

	dispatcher := notifications.CreateDispatcher(
		taskStore,
		notifications.CreateLogEmailSender(logger),
		deduper,
		cfg.Notification.EmailEnabled,
		cfg.Notification.EmailByKind,
		cfg.Notification.WorkerInterval,
		cfg.Notification.WorkerBatch,
		logger,
	)

	feeCalculator := services.CreateFeeCalculator(cfg.Payment.Fees)
	invoiceService := services.CreateInvoiceService(
		invoiceStore, paymentStore, userDirectory, appointments, dispatcher, cfg.Payment, logger)
	paymentService := services.CreatePaymentService(
		paymentStore, invoiceStore, methodStore, customerStore, invoiceService, gateway, feeCalculator, dispatcher, cfg.Payment, logger)
	methodService := services.CreatePaymentMethodService(
		methodStore, customerStore, userDirectory, gateway, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcher.Start(workerCtx)
	startSweeps(workerCtx, cfg, invoiceService, paymentService, logger)

	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/health", api.HealthCheckHandler).Methods("GET")

	api.CreateInvoiceHandler(invoiceService).RegisterRoutes(apiRouter)
	api.CreatePaymentHandler(paymentService).RegisterRoutes(apiRouter)
	api.CreatePaymentMethodHandler(methodService).RegisterRoutes(apiRouter)
	api.CreateWebhookHandler(paymentService, webhookStore, cfg.Stripe.WebhookSecret, logger).RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// startSweeps runs the periodic maintenance jobs: overdue marking, payment
// reminders, and stale payment expiry.
func startSweeps(ctx context.Context, cfg *config.Config, invoices *services.InvoiceService, payments *services.PaymentService, logger zerolog.Logger) {
	lead := time.Duration(cfg.Payment.ReminderLeadDays) * 24 * time.Hour

	go func() {
		ticker := time.NewTicker(cfg.Payment.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if n, err := invoices.SweepOverdue(ctx, now); err != nil {
					logger.Error().Err(err).Msg("overdue sweep failed")
				} else if n > 0 {
					logger.Info().Int("count", n).Msg("overdue sweep complete")
				}
				if n, err := invoices.SweepReminders(ctx, now, lead); err != nil {
					logger.Error().Err(err).Msg("reminder sweep failed")
				} else if n > 0 {
					logger.Info().Int("count", n).Msg("reminder sweep complete")
				}
				if n, err := payments.ExpireStalePayments(ctx, now); err != nil {
					logger.Error().Err(err).Msg("stale payment sweep failed")
				} else if n > 0 {
					logger.Info().Int("count", n).Msg("stale payments expired")
				}
			}
		}
	}()
}

/**
 * @description
 * Main entry point for the billing service. Initializes configuration, the
 * database pool, RabbitMQ, Redis, the scheduled-task registry, and the HTTP
 * server, then blocks until a termination signal.
 */
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/netbill/billing-service/internal/api"
	"github.com/netbill/billing-service/internal/app"
	"github.com/netbill/billing-service/internal/config"
	"github.com/netbill/billing-service/internal/store"
	"github.com/netbill/billing-service/pkg/gateway"
	"github.com/netbill/billing-service/pkg/notifyclient"
	"github.com/netbill/billing-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		logger.Error("invalid business timezone", "timezone", cfg.BusinessTimezone, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// RabbitMQ is optional in development; billing keeps working with the
	// fallback publisher, events are only logged.
	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq unavailable, using fallback publisher", "error", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		publisher = producer
	}
	defer publisher.Close()

	repository := store.NewRepository(dbpool)
	notifier := notifyclient.New(cfg.NotificationServiceURL, cfg.InternalAPIKey)

	invoiceService := app.NewInvoiceService(repository, publisher, notifier, logger, loc, cfg.DefaultDeadlineDay, cfg.InvoiceNumberRetries)
	paymentService := app.NewPaymentService(repository, publisher, logger, loc, cfg.CarryOverDueOffsetDays, cfg.InvoiceNumberRetries)
	latePaymentService := app.NewLatePaymentService(repository, logger, loc, cfg.OnTimeResetThreshold, cfg.RecalcWindowMonths)
	enforcementService := app.NewEnforcementService(repository, publisher, notifier, logger, loc, cfg.DefaultDeadlineDay, cfg.DefaultGraceDays)
	discountService := app.NewDiscountService(repository, logger, loc, cfg.SLARatePerPoint)

	registry := app.NewSchedulerRegistry(repository, logger, loc)
	schedulerService := app.NewSchedulerService(repository, registry, logger)

	jobs := app.NewJobs(invoiceService, latePaymentService, enforcementService, discountService, logger, loc)
	jobs.Register(registry)

	if err := registry.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// The payment consumer runs in-process: recording a payment and reacting
	// to it are decoupled through the broker even inside one binary.
	eventHandler := app.NewPaymentEventHandler(latePaymentService, enforcementService, logger)
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable, payment tracking relies on the recalculation sweep", "error", err)
	} else {
		defer consumer.Close()
		bindings := map[string]func([]byte) bool{
			"payment.recorded": eventHandler.HandlePaymentRecorded,
		}
		if err := consumer.ConsumeWithBindings("netbill.events", "billing.payment.tracking", bindings); err != nil {
			logger.Error("failed to start payment consumer", "error", err)
			os.Exit(1)
		}
		logger.Info("payment consumer started")
	}

	var limiter api.WebhookRateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		limiter = app.NewRedisWebhookRateLimiter(redisClient, "netbill:rate_limit")
		logger.Info("redis rate limiter enabled")
	}

	gateways := gateway.NewRegistry(
		gateway.NewTripayGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayWebhookSecret, cfg.GatewayMerchantCode),
	)

	handler := api.NewHandler(
		invoiceService,
		paymentService,
		latePaymentService,
		enforcementService,
		discountService,
		schedulerService,
		repository,
		gateways,
		limiter,
		logger,
		loc,
		cfg.WebhookRateLimit,
		time.Duration(cfg.WebhookRateWindowSeconds)*time.Second,
	)
	router := api.NewRouter(handler, cfg.AdminJWTSecret, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("billing service listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	stopCtx := registry.Stop()
	<-stopCtx.Done()
	logger.Info("billing service stopped gracefully")
}

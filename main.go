package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-booking/internal/analytics"
	analytics_api "ms-booking/internal/analytics/api"
	"ms-booking/internal/auth"
	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/events"
	"ms-booking/internal/guests"
	"ms-booking/internal/inventory"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/order"
	"ms-booking/internal/order/db"
	orderkafka "ms-booking/internal/order/kafka"
	"ms-booking/internal/order/order_api"
	rediswrap "ms-booking/internal/order/redis"
	"ms-booking/internal/payment"
	"ms-booking/internal/sse"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"
	qr "ms-booking/internal/tickets/qr_genrator"
	ticketservice "ms-booking/internal/tickets/service"
	"ms-booking/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable at %s, confirmations run without the order lock: %v", cfg.Addr, err))
		_ = client.Close()
		return nil
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func runMigrations(bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) {
	runner := migrations.NewRunner(bunDB.DB, migrations.MigrateOptions{MigrationsDir: cfg.MigrationsDir}, log)
	if err := runner.Initialize(); err != nil {
		log.Fatal("MIGRATION", fmt.Sprintf("Failed to initialize migrations: %v", err))
	}
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("MIGRATION", fmt.Sprintf("Failed to apply migrations: %v", err))
	}
}

func newGateway(cfg config.PaymentConfig, log *logger.Logger) (payment.Gateway, *payment.SandboxGateway) {
	switch cfg.Provider {
	case "stripe":
		gateway, err := payment.NewStripeGateway(cfg.StripeSecretKey, log)
		if err != nil {
			log.Fatal("PAYMENT", fmt.Sprintf("Failed to initialize Stripe gateway: %v", err))
		}
		return gateway, nil
	case "sandbox":
		sandbox := payment.NewSandboxGateway(cfg.SharedSecret, log)
		return sandbox, sandbox
	default:
		log.Fatal("CONFIG", fmt.Sprintf("Unknown PAYMENT_PROVIDER %q", cfg.Provider))
		return nil, nil
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to discover OIDC issuer: %v", err))
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens issued by %s", cfg.OIDCIssuer))
		return verifier
	}
	verifier, err := auth.NewHMACVerifier(cfg.DevJWTSecret)
	if err != nil {
		log.Fatal("CONFIG", "Either OIDC_ISSUER or AUTH_DEV_SECRET must be set")
	}
	log.Warn("AUTH", "OIDC_ISSUER not set, accepting HS256 development tokens")
	return verifier
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting booking service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	if cfg.Payment.SharedSecret == "" {
		log.Fatal("CONFIG", "PAYMENT_SHARED_SECRET not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runMigrations(bunDB, cfg.Database, log)
	}

	metrics.Register()

	gateway, sandbox := newGateway(cfg.Payment, log)
	catalog := events.NewRepository(bunDB)
	ledger := inventory.NewLedger(bunDB)
	orderStore := &db.DB{Bun: bunDB}
	ticketStore := &ticketdb.DB{Bun: bunDB}
	generator := qr.NewQRGenerator(cfg.Tickets.QRSize)
	emitter := sse.NewOrderEventEmitter()

	orderService := order.NewOrderService(
		orderStore,
		ledger,
		ticketStore,
		tickets.NewIssuer(generator),
		catalog,
		guests.NewResolver(bunDB, log),
		gateway,
		order.Settings{
			PlatformFee:     cfg.Pricing.PlatformFee,
			TaxRateBps:      cfg.Pricing.TaxRateBps,
			SharedSecret:    cfg.Payment.SharedSecret,
			PaymentTimeout:  cfg.Reaper.PaymentTimeout,
			DefaultCurrency: cfg.Payment.Currency,
		},
		log,
	)
	orderService.Notifier = emitter

	redisClient := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
		orderService.Redis = rediswrap.NewRedis(redisClient, cfg.Redis.OrderLockTTL, log)
	}

	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.AllTopics(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		orderService.Kafka = orderkafka.NewPublisher(producer, cfg.Kafka.Topics)

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentConfirmed, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.StartPaymentConfirmations(ctx, orderService.HandlePaymentConfirmed)
	} else {
		log.Warn("KAFKA", "Kafka disabled, order events are only streamed over SSE")
	}

	if cfg.Reaper.Enabled {
		reaper := order.NewReaper(orderService, cfg.Reaper.Interval, log)
		if err := reaper.Start(); err != nil {
			log.Fatal("REAPER", fmt.Sprintf("Failed to start reaper: %v", err))
		}
		defer reaper.Stop()
	}

	orderHandler := order_api.NewHandler(orderService, log)
	if sandbox != nil {
		orderHandler.Sandbox = sandbox
		log.Warn("PAYMENT", "Sandbox gateway active, /tickets/sandbox/{externalOrderId}/pay is exposed")
	}
	if cfg.Payment.StripeWebhookSecret != "" {
		orderHandler.Webhook = &payment.StripeWebhook{
			WebhookSecret: cfg.Payment.StripeWebhookSecret,
			SharedSecret:  cfg.Payment.SharedSecret,
		}
	}
	sseHandler := order_api.NewSSEHandler(orderService, emitter, log)
	ticketHandler := ticket_api.NewHandler(
		ticketservice.NewTicketService(ticketStore, orderStore, log),
		ledger,
		catalog,
		generator,
		log,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(log.RequestLogger)
	r.Use(metrics.Instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	orderHandler.RegisterPublicRoutes(r)
	ticketHandler.RegisterPublicRoutes(r)

	if cfg.Analytics.APIKey != "" {
		salesService := analytics.NewService(bunDB)
		salesHandler := analytics_api.NewHandler(salesService, catalog, cfg.Analytics.APIKey, log)
		if redisClient != nil {
			salesHandler = analytics_api.NewHandlerWithRedis(salesService, catalog, cfg.Analytics.APIKey, log, redisClient, cfg.Analytics.CacheTTL)
		}
		salesHandler.RegisterRoutes(r)
		log.Info("ROUTER", "Sales report registered at /internal/events/{eventId}/sales")
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(newVerifier(ctx, cfg.Auth, log), log))
		orderHandler.RegisterRoutes(r)
		sseHandler.RegisterRoutes(r)
		ticketHandler.RegisterRoutes(r)
	})
	log.Info("ROUTER", "Order, ticket and stream routes registered under /tickets")

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// No WriteTimeout: order event streams stay open until a terminal status.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Booking service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Booking service shutdown complete")
	}
}

// Command reaper expires orders whose payment window has elapsed. Run it when
// the API replicas start with REAPER_ENABLED=false.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/events"
	"ms-booking/internal/guests"
	"ms-booking/internal/inventory"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/order"
	"ms-booking/internal/order/db"
	orderkafka "ms-booking/internal/order/kafka"
	"ms-booking/internal/payment"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"
	qr "ms-booking/internal/tickets/qr_genrator"

	"github.com/joho/godotenv"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	metrics.Register()

	var gateway payment.Gateway
	if cfg.Payment.Provider == "stripe" {
		if gateway, err = payment.NewStripeGateway(cfg.Payment.StripeSecretKey, log); err != nil {
			log.Fatal("PAYMENT", fmt.Sprintf("Failed to initialize Stripe gateway: %v", err))
		}
	} else {
		// Sandbox orders live in the API process; cancelling them here is a logged no-op.
		gateway = payment.NewSandboxGateway(cfg.Payment.SharedSecret, log)
	}

	svc := order.NewOrderService(
		&db.DB{Bun: bunDB},
		inventory.NewLedger(bunDB),
		&ticketdb.DB{Bun: bunDB},
		tickets.NewIssuer(qr.NewQRGenerator(cfg.Tickets.QRSize)),
		events.NewRepository(bunDB),
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
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		svc.Kafka = orderkafka.NewPublisher(producer, cfg.Kafka.Topics)
	}

	reaper := order.NewReaper(svc, cfg.Reaper.Interval, log)
	if *once {
		reaper.RunOnce(ctx)
		return
	}

	if err := reaper.Start(); err != nil {
		log.Fatal("REAPER", fmt.Sprintf("Failed to start reaper: %v", err))
	}
	log.Info("REAPER", fmt.Sprintf("Sweeping every %s for orders older than %s", reaper.Interval, cfg.Reaper.PaymentTimeout))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("REAPER", "Shutdown signal received")
	if err := reaper.Stop(); err != nil {
		log.Error("REAPER", fmt.Sprintf("Failed to stop scheduler: %v", err))
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/tradepost-io/tradepost/internal/market"
	"github.com/tradepost-io/tradepost/internal/messaging"
	"github.com/tradepost-io/tradepost/internal/payment"
	"github.com/tradepost-io/tradepost/internal/shipment"
	"github.com/tradepost-io/tradepost/internal/telemetry"
	"github.com/tradepost-io/tradepost/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(context.Background(), "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB(postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	paymentServiceURL := os.Getenv("PAYMENT_SERVICE_URL")
	if paymentServiceURL == "" {
		paymentServiceURL = "http://localhost:5555"
	}
	paymentShopID := os.Getenv("PAYMENT_SHOP_ID")
	if paymentShopID == "" {
		paymentShopID = "11"
	}

	shipmentServiceURL := os.Getenv("SHIPMENT_SERVICE_URL")
	if shipmentServiceURL == "" {
		shipmentServiceURL = "http://localhost:7000"
	}

	orchestrator, err := market.NewOrchestrator(
		market.NewRepository(db),
		payment.NewClient(paymentServiceURL, paymentShopID, httpClient),
		shipment.NewClient(shipmentServiceURL, httpClient),
		nil,
		logger,
	)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	brokers := strings.Split(kafkaBrokers, ",")
	consumer := messaging.NewConsumer(brokers, messaging.TopicTransactionCreated, "shipment-reconciler")
	defer func() { _ = consumer.Close() }()

	reconcileHandler := worker.NewReconcileHandler(orchestrator, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting shipment reconciliation worker", "brokers", brokers)

	if err := consumer.Consume(ctx, reconcileHandler.Handle); err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}

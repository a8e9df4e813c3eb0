//go:build integration

package test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tradepost-io/tradepost/internal/domain"
	"github.com/tradepost-io/tradepost/internal/market"
	"github.com/tradepost-io/tradepost/internal/messaging"
	"github.com/tradepost-io/tradepost/internal/payment"
	"github.com/tradepost-io/tradepost/internal/shipment"
	"github.com/tradepost-io/tradepost/internal/stub"
	"github.com/tradepost-io/tradepost/internal/worker"
)

func seedUser(t *testing.T, db *sql.DB, accountName, address string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO users (account_name, address) VALUES ($1, $2) RETURNING id
	`, accountName, address).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", accountName, err)
	}
	return id
}

func seedItem(t *testing.T, db *sql.DB, sellerID int64, name string, price int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO items (seller_id, status, name, price, description, category_id)
		VALUES ($1, 'on_sale', $2, $3, 'integration test item', 1)
		RETURNING id
	`, sellerID, name, price).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed item %s: %v", name, err)
	}
	return id
}

type gateways struct {
	payments     *payment.Client
	shipments    *shipment.Client
	shipmentStub *stub.ShipmentHandler
}

func setupGateways(t *testing.T) *gateways {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	paymentStub := stub.NewPaymentHandler(logger)
	shipmentStub := stub.NewShipmentHandler(logger)

	paymentServer := httptest.NewServer(paymentStub.Mux())
	t.Cleanup(paymentServer.Close)
	shipmentServer := httptest.NewServer(shipmentStub.Mux())
	t.Cleanup(shipmentServer.Close)

	return &gateways{
		payments:     payment.NewClient(paymentServer.URL, "11", paymentServer.Client()),
		shipments:    shipment.NewClient(shipmentServer.URL, shipmentServer.Client()),
		shipmentStub: shipmentStub,
	}
}

func TestPurchaseRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	gw := setupGateways(t)
	repo := market.NewRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orchestrator, err := market.NewOrchestrator(repo, gw.payments, gw.shipments, nil, logger)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	sellerID := seedUser(t, db, "seller", "1-1-1 Seller Town")
	buyerID := seedUser(t, db, "buyer", "9-9-9 Buyer City")
	itemID := seedItem(t, db, sellerID, "used camera", 1500)

	teID, err := orchestrator.Buy(ctx, itemID, buyerID, "tok-roundtrip")
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	te, err := repo.GetTransactionByID(ctx, teID)
	if err != nil {
		t.Fatalf("failed to load evidence: %v", err)
	}
	if te.Status != domain.TransactionEvidenceStatusWaitShipping {
		t.Fatalf("expected wait_shipping, got %s", te.Status)
	}
	if te.ItemPrice != 1500 {
		t.Fatalf("expected snapshot price 1500, got %d", te.ItemPrice)
	}

	result, err := orchestrator.ShipNotify(ctx, itemID, sellerID)
	if err != nil {
		t.Fatalf("ship notify failed: %v", err)
	}
	if len(result.Label) == 0 {
		t.Fatal("expected a shipment label")
	}

	shp, err := repo.GetShipping(ctx, teID)
	if err != nil {
		t.Fatalf("failed to load shipping: %v", err)
	}
	if shp.Status != domain.ShippingStatusWaitPickup {
		t.Fatalf("expected wait_pickup, got %s", shp.Status)
	}

	gw.shipmentStub.Advance(shp.ReserveID)
	state, err := orchestrator.ShipDone(ctx, itemID)
	if err != nil {
		t.Fatalf("ship done failed: %v", err)
	}
	if state.ShippingStatus != domain.ShippingStatusShipping {
		t.Fatalf("expected shipping, got %s", state.ShippingStatus)
	}

	gw.shipmentStub.Advance(shp.ReserveID)
	if err := orchestrator.Complete(ctx, itemID, buyerID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	te, err = repo.GetTransactionByID(ctx, teID)
	if err != nil {
		t.Fatalf("failed to load evidence: %v", err)
	}
	if te.Status != domain.TransactionEvidenceStatusDone {
		t.Fatalf("expected done, got %s", te.Status)
	}

	item, err := repo.GetItem(ctx, itemID)
	if err != nil {
		t.Fatalf("failed to load item: %v", err)
	}
	if item.Status != domain.ItemStatusSoldOut {
		t.Fatalf("expected sold_out, got %s", item.Status)
	}
	if item.BuyerID != buyerID {
		t.Fatalf("expected buyer %d, got %d", buyerID, item.BuyerID)
	}
}

// TestConcurrentBuyers exercises the real FOR UPDATE row lock: many buyers
// race on one item and exactly one purchase must be registered.
func TestConcurrentBuyers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	gw := setupGateways(t)
	repo := market.NewRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orchestrator, err := market.NewOrchestrator(repo, gw.payments, gw.shipments, nil, logger)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	sellerID := seedUser(t, db, "seller", "1-1-1 Seller Town")
	itemID := seedItem(t, db, sellerID, "hot item", 1000)

	const buyers = 6
	buyerIDs := make([]int64, buyers)
	for i := range buyerIDs {
		buyerIDs[i] = seedUser(t, db, fmt.Sprintf("buyer-%d", i), "somewhere")
	}

	var wg sync.WaitGroup
	var wins, unavailable atomic.Int32
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := orchestrator.Buy(ctx, itemID, buyerIDs[i], fmt.Sprintf("tok-%d", i))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, market.ErrItemUnavailable):
				unavailable.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if unavailable.Load() != buyers-1 {
		t.Fatalf("expected %d rejected buyers, got %d", buyers-1, unavailable.Load())
	}

	var evidenceCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM transaction_evidences WHERE item_id = $1`, itemID).Scan(&evidenceCount); err != nil {
		t.Fatalf("failed to count evidences: %v", err)
	}
	if evidenceCount != 1 {
		t.Fatalf("expected one transaction evidence, got %d", evidenceCount)
	}
}

// TestReconciliationWorker publishes a transaction.created event for a
// purchase whose carrier reservation was never obtained, and waits for the
// worker to recover it.
func TestReconciliationWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := market.NewRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	producer := messaging.NewProducer(brokers, messaging.TopicTransactionCreated)
	defer func() { _ = producer.Close() }()

	// The buying orchestrator's shipment service is down, so the shipping row
	// stays at initial and only the event makes it out.
	deadServer := httptest.NewServer(http.NotFoundHandler())
	deadServer.Close()
	gwDown := setupGateways(t)
	buyOrchestrator, err := market.NewOrchestrator(
		repo, gwDown.payments, shipment.NewClient(deadServer.URL, deadServer.Client()), producer, logger)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	sellerID := seedUser(t, db, "seller", "1-1-1 Seller Town")
	buyerID := seedUser(t, db, "buyer", "9-9-9 Buyer City")
	itemID := seedItem(t, db, sellerID, "used camera", 1500)

	teID, err := buyOrchestrator.Buy(ctx, itemID, buyerID, "tok-worker")
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	shp, err := repo.GetShipping(ctx, teID)
	if err != nil {
		t.Fatalf("failed to load shipping: %v", err)
	}
	if shp.Status != domain.ShippingStatusInitial {
		t.Fatalf("expected initial, got %s", shp.Status)
	}

	// The worker's orchestrator talks to a live shipment service.
	gw := setupGateways(t)
	workerOrchestrator, err := market.NewOrchestrator(repo, gw.payments, gw.shipments, nil, logger)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicTransactionCreated, "shipment-reconciler",
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	handler := worker.NewReconcileHandler(workerOrchestrator, logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		_ = consumer.Consume(consumerCtx, handler.Handle)
	}()

	deadline := time.Now().Add(60 * time.Second)
	for {
		shp, err = repo.GetShipping(ctx, teID)
		if err != nil {
			t.Fatalf("failed to load shipping: %v", err)
		}
		if shp.Status == domain.ShippingStatusWaitPickup {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never recovered the reservation, status still %s", shp.Status)
		}
		time.Sleep(500 * time.Millisecond)
	}

	if shp.ReserveID == "" {
		t.Fatal("expected a reserve id after recovery")
	}
}

package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository/sqlstore"
)

type harness struct {
	db         *sqlstore.DB
	eventLog   *sqlstore.EventLog
	idempotent repository.IdempotencyStore
	guard      *IdempotencyGuard
	orders     *OrderService
	shipments  *ShipmentService
	inventory  *fakeInventory
}

// newHarness wires the services over a fresh SQLite file. publisher may be
// nil, leaving every outbox entry Pending.
func newHarness(t *testing.T, publisher TransactionPublisher) *harness {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, filepath.Join(t.TempDir(), "fulfillment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idempotent := sqlstore.NewIdempotencyStore(db)
	guard := NewIdempotencyGuard(idempotent, 0)
	return &harness{
		db:         db,
		eventLog:   sqlstore.NewEventLog(db),
		idempotent: idempotent,
		guard:      guard,
		orders:     NewOrderService(sqlstore.NewOrderRepository(db, nil), fakeIdentity{}, guard, publisher),
		shipments:  NewShipmentService(sqlstore.NewShipmentRepository(db, nil), guard, publisher),
		inventory:  newFakeInventory(),
	}
}

func sampleOrder() CreateOrder {
	return CreateOrder{
		BuyerID: "buyer-1",
		Address: entity.Address{Street: "1 Main", City: "Lisbon", Country: "PT", ZipCode: "1000"},
		Items: []OrderItemInput{
			{ProductID: "p-1", ProductName: "Mug", UnitPrice: decimal.NewFromInt(10), Units: 2},
			{ProductID: "p-2", ProductName: "Headphones", UnitPrice: decimal.RequireFromString("49.90"), Units: 1},
		},
	}
}

// createPaidOrder drives a new order to Paid through the service.
func (h *harness) createPaidOrder(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	res, err := h.orders.CreateOrder(ctx, t.Name()+"-create", sampleOrder())
	require.NoError(t, err)
	orderID := res.AggregateID
	_, err = h.orders.SetAwaitingValidation(ctx, t.Name()+"-validate", orderID)
	require.NoError(t, err)
	_, err = h.orders.ConfirmStock(ctx, t.Name()+"-confirm", orderID)
	require.NoError(t, err)
	_, err = h.orders.SetPaid(ctx, t.Name()+"-pay", orderID)
	require.NoError(t, err)
	return orderID
}

type fakeIdentity struct{}

func (fakeIdentity) LookupBuyer(_ context.Context, buyerID string) (Buyer, error) {
	return Buyer{ID: buyerID, Name: "Buyer " + buyerID}, nil
}

type fakeInventory struct {
	mu         sync.Mutex
	outOfStock map[string]bool
	unknown    map[string]bool
	warehouses map[string]StockAvailability
	err        error
	calls      int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		outOfStock: map[string]bool{},
		unknown:    map[string]bool{},
		warehouses: map[string]StockAvailability{
			"p-1": {WarehouseID: "wh-north", WarehouseName: "North"},
			"p-2": {WarehouseID: "wh-south", WarehouseName: "South"},
		},
	}
}

func (f *fakeInventory) CheckStock(_ context.Context, items []StockRequest) ([]StockAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]StockAvailability, 0, len(items))
	for _, item := range items {
		if f.unknown[item.ProductID] {
			continue
		}
		a := f.warehouses[item.ProductID]
		a.ProductID = item.ProductID
		a.HasStock = !f.outOfStock[item.ProductID]
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeInventory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// recordingPublisher captures envelopes and fails while failures > 0.
type recordingPublisher struct {
	mu        sync.Mutex
	sent      []messaging.Envelope
	failures  int
	attempted int
}

func (p *recordingPublisher) Publish(_ context.Context, env messaging.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempted++
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) envelopes() []messaging.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.Envelope, len(p.sent))
	copy(out, p.sent)
	return out
}

func eventTypes(envs []messaging.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.EventType)
	}
	return out
}

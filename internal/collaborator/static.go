package collaborator

import (
	"context"
	"strings"
	"sync"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/service"
)

// Warehouse identifies a stocking location.
type Warehouse struct {
	ID   string
	Name string
}

// StockLevel is the on-hand quantity of a product and where it is stored.
type StockLevel struct {
	Units     int
	Warehouse Warehouse
}

// StaticInventory answers stock checks from memory. Products without a stock
// level are treated as unlimited in the fallback warehouse.
type StaticInventory struct {
	mu       sync.RWMutex
	fallback Warehouse
	stock    map[string]StockLevel
}

func NewStaticInventory(fallback Warehouse) *StaticInventory {
	return &StaticInventory{fallback: fallback, stock: make(map[string]StockLevel)}
}

// SetStock records the stock level of productID.
func (s *StaticInventory) SetStock(productID string, level StockLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = level
}

func (s *StaticInventory) CheckStock(_ context.Context, items []service.StockRequest) ([]service.StockAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]service.StockAvailability, 0, len(items))
	for _, item := range items {
		level, ok := s.stock[item.ProductID]
		if !ok {
			out = append(out, service.StockAvailability{
				ProductID:     item.ProductID,
				HasStock:      true,
				WarehouseID:   s.fallback.ID,
				WarehouseName: s.fallback.Name,
			})
			continue
		}
		out = append(out, service.StockAvailability{
			ProductID:     item.ProductID,
			HasStock:      level.Units >= item.Units,
			WarehouseID:   level.Warehouse.ID,
			WarehouseName: level.Warehouse.Name,
		})
	}
	return out, nil
}

// StaticIdentity resolves buyers from a fixed directory. Unknown buyers are
// named after their id.
type StaticIdentity struct {
	names map[string]string
}

func NewStaticIdentity(names map[string]string) *StaticIdentity {
	directory := make(map[string]string, len(names))
	for id, name := range names {
		directory[id] = name
	}
	return &StaticIdentity{names: directory}
}

func (s *StaticIdentity) LookupBuyer(_ context.Context, buyerID string) (service.Buyer, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return service.Buyer{}, &entity.ValidationError{Field: "buyer_id", Reason: "is required"}
	}
	name, ok := s.names[buyerID]
	if !ok {
		name = buyerID
	}
	return service.Buyer{ID: buyerID, Name: name}, nil
}

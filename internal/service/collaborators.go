package service

import "context"

// StockRequest asks for units of one product.
type StockRequest struct {
	ProductID string `json:"product_id"`
	Units     int    `json:"units"`
}

// StockAvailability is the inventory answer for one product, including the
// warehouse the units would ship from.
type StockAvailability struct {
	ProductID     string `json:"product_id"`
	HasStock      bool   `json:"has_stock"`
	WarehouseID   string `json:"warehouse_id"`
	WarehouseName string `json:"warehouse_name"`
}

// InventoryChecker is the catalog/inventory collaborator. Calls are not
// retried here.
type InventoryChecker interface {
	CheckStock(ctx context.Context, items []StockRequest) ([]StockAvailability, error)
}

// Buyer is the identity view used in event payloads.
type Buyer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IdentityLookup resolves buyer names. It never mutates identity data.
type IdentityLookup interface {
	LookupBuyer(ctx context.Context, buyerID string) (Buyer, error)
}

// TransactionPublisher publishes the outbox entries of one committed save.
type TransactionPublisher interface {
	PublishTransaction(ctx context.Context, transactionID string) error
}

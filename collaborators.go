package main

import (
	"log/slog"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/collaborator"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/service"
)

// newCollaborators uses the remote services when their URLs are set and the
// in-process stand-ins otherwise.
func newCollaborators(cfg config.Config) (service.InventoryChecker, service.IdentityLookup) {
	var (
		inventory service.InventoryChecker
		identity  service.IdentityLookup
	)
	if cfg.InventoryURL != "" {
		inventory = collaborator.NewHTTPInventory(cfg.InventoryURL, nil)
	} else {
		slog.Warn("INVENTORY_URL not set, every product is in stock at the local warehouse")
		inventory = collaborator.NewStaticInventory(collaborator.Warehouse{ID: "wh-local", Name: "Local warehouse"})
	}
	if cfg.IdentityURL != "" {
		identity = collaborator.NewHTTPIdentity(cfg.IdentityURL, nil)
	} else {
		identity = collaborator.NewStaticIdentity(nil)
	}
	return inventory, identity
}

// Package collaborator implements the inventory and identity lookups the
// order services depend on, over HTTP or in process.
package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/service"
)

const defaultTimeout = 5 * time.Second

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: defaultTimeout}
	}
	return client
}

// HTTPInventory asks the inventory service for stock and warehouse allocation.
type HTTPInventory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInventory creates a client for the inventory service at baseURL.
func NewHTTPInventory(baseURL string, client *http.Client) *HTTPInventory {
	return &HTTPInventory{baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

type stockCheckRequest struct {
	Items []service.StockRequest `json:"items"`
}

type stockCheckResponse struct {
	Items []service.StockAvailability `json:"items"`
}

// CheckStock posts the requested lines to /api/stock/check.
func (c *HTTPInventory) CheckStock(ctx context.Context, items []service.StockRequest) ([]service.StockAvailability, error) {
	body, err := json.Marshal(stockCheckRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stock check: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/stock/check", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build stock check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stock check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stock check returned %s", resp.Status)
	}
	var out stockCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode stock check response: %w", err)
	}
	return out.Items, nil
}

// HTTPIdentity resolves buyers through the identity service.
type HTTPIdentity struct {
	baseURL string
	client  *http.Client
}

func NewHTTPIdentity(baseURL string, client *http.Client) *HTTPIdentity {
	return &HTTPIdentity{baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

// LookupBuyer reads /api/buyers/{id}. An unknown buyer is a validation error.
func (c *HTTPIdentity) LookupBuyer(ctx context.Context, buyerID string) (service.Buyer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/buyers/"+url.PathEscape(buyerID), nil)
	if err != nil {
		return service.Buyer{}, fmt.Errorf("failed to build buyer request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return service.Buyer{}, fmt.Errorf("buyer request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return service.Buyer{}, &entity.ValidationError{Field: "buyer_id", Reason: "unknown buyer " + buyerID}
	default:
		return service.Buyer{}, fmt.Errorf("buyer lookup returned %s", resp.Status)
	}

	var buyer service.Buyer
	if err := json.NewDecoder(resp.Body).Decode(&buyer); err != nil {
		return service.Buyer{}, fmt.Errorf("failed to decode buyer: %w", err)
	}
	if buyer.ID == "" {
		buyer.ID = buyerID
	}
	return buyer, nil
}

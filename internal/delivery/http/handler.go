package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/service"
)

// HeaderRequestID carries the idempotency key of a mutating command.
const HeaderRequestID = "x-requestid"

// OutboxStats reports outbox entries per delivery state.
type OutboxStats interface {
	Stats(ctx context.Context) (map[entity.EventState]int, error)
}

// Handler exposes the order and shipment commands over HTTP.
type Handler struct {
	orderSvc    *service.OrderService
	shipmentSvc *service.ShipmentService
	outbox      OutboxStats
}

func NewHandler(orderSvc *service.OrderService, shipmentSvc *service.ShipmentService, outbox OutboxStats) *Handler {
	return &Handler{
		orderSvc:    orderSvc,
		shipmentSvc: shipmentSvc,
		outbox:      outbox,
	}
}

// NewRouter mounts the API on a chi router with the standard middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(EnableCORS)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/orders", h.handleCreateOrder)
	r.Get("/api/orders/{id}", h.handleGetOrder)
	r.Put("/api/orders/{id}/{action}", h.handleOrderAction)

	r.Get("/api/shipments/{id}", h.handleGetShipment)
	r.Put("/api/shipments/{id}/{action}", h.handleShipmentAction)

	r.Get("/api/outbox/stats", h.handleOutboxStats)
}

// requestID returns the x-requestid header, which must be a UUID.
func requestID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(HeaderRequestID)
	if id == "" {
		http.Error(w, "missing x-requestid header", http.StatusBadRequest)
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "malformed x-requestid header", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	reqID, ok := requestID(w, r)
	if !ok {
		return
	}
	var cmd service.CreateOrder
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.orderSvc.CreateOrder(r.Context(), reqID, cmd)
	if err != nil {
		writeError(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleOrderAction(w http.ResponseWriter, r *http.Request) {
	reqID, ok := requestID(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")

	var run func(ctx context.Context, requestID, orderID string) (entity.CommandResult, error)
	switch chi.URLParam(r, "action") {
	case "validate":
		run = h.orderSvc.SetAwaitingValidation
	case "pay":
		run = h.orderSvc.SetPaid
	case "ship":
		run = h.orderSvc.Ship
	case "cancel":
		run = h.orderSvc.Cancel
	case "request-return":
		run = h.orderSvc.RequestReturn
	case "receive-return":
		run = h.orderSvc.ReceiveReturn
	case "refund":
		run = h.orderSvc.Refund
	default:
		http.NotFound(w, r)
		return
	}

	result, err := run(r.Context(), reqID, orderID)
	if err != nil {
		writeError(w, "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type shipmentActionRequest struct {
	ShipperID         string `json:"shipper_id"`
	WaypointID        string `json:"waypoint_id"`
	ReturnWarehouseID string `json:"return_warehouse_id"`
}

func (h *Handler) handleShipmentAction(w http.ResponseWriter, r *http.Request) {
	reqID, ok := requestID(w, r)
	if !ok {
		return
	}
	var body shipmentActionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	shipmentID := chi.URLParam(r, "id")
	var (
		result entity.CommandResult
		err    error
	)
	switch chi.URLParam(r, "action") {
	case "assign":
		result, err = h.shipmentSvc.AssignShipper(ctx, reqID, shipmentID, body.ShipperID)
	case "pickup":
		result, err = h.shipmentSvc.Pickup(ctx, reqID, shipmentID, body.WaypointID)
	case "arrive":
		result, err = h.shipmentSvc.Arrive(ctx, reqID, shipmentID, body.WaypointID)
	case "depart":
		result, err = h.shipmentSvc.Depart(ctx, reqID, shipmentID, body.WaypointID)
	case "complete":
		result, err = h.shipmentSvc.Complete(ctx, reqID, shipmentID)
	case "cancel":
		result, err = h.shipmentSvc.Cancel(ctx, reqID, shipmentID, body.ReturnWarehouseID)
	case "return":
		result, err = h.shipmentSvc.Return(ctx, reqID, shipmentID)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, "Failed to update shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type orderResponse struct {
	ID          string             `json:"id"`
	Version     int                `json:"version"`
	Status      entity.OrderStatus `json:"status"`
	Description string             `json:"description,omitempty"`
	BuyerID     string             `json:"buyer_id"`
	BuyerName   string             `json:"buyer_name"`
	Address     entity.Address     `json:"address"`
	Items       []entity.OrderItem `json:"items"`
	Total       decimal.Decimal    `json:"total"`
	CreatedAt   time.Time          `json:"created_at"`
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		ID:          order.ID,
		Version:     order.Version,
		Status:      order.Status,
		Description: order.Description,
		BuyerID:     order.BuyerID,
		BuyerName:   order.BuyerName,
		Address:     order.Address,
		Items:       order.Items(),
		Total:       order.GetTotal(),
		CreatedAt:   order.CreatedAt,
	})
}

type shipmentResponse struct {
	ID                string                         `json:"id"`
	Version           int                            `json:"version"`
	OrderID           string                         `json:"order_id"`
	ShipperID         string                         `json:"shipper_id,omitempty"`
	Status            entity.ShipmentStatus          `json:"status"`
	Address           entity.Address                 `json:"address"`
	ReturnWarehouseID string                         `json:"return_warehouse_id,omitempty"`
	Waypoints         []entity.ShipmentWaypoint      `json:"waypoints"`
	History           []entity.ShipmentStatusHistory `json:"history"`
	CreatedAt         time.Time                      `json:"created_at"`
	CompletedAt       *time.Time                     `json:"completed_at,omitempty"`
}

func (h *Handler) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	shipment, err := h.shipmentSvc.GetShipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "Failed to get shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse{
		ID:                shipment.ID,
		Version:           shipment.Version,
		OrderID:           shipment.OrderID,
		ShipperID:         shipment.ShipperID,
		Status:            shipment.Status,
		Address:           shipment.Address,
		ReturnWarehouseID: shipment.ReturnWarehouseID,
		Waypoints:         shipment.Waypoints(),
		History:           shipment.History(),
		CreatedAt:         shipment.CreatedAt,
		CompletedAt:       shipment.CompletedAt,
	})
}

func (h *Handler) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.outbox.Stats(r.Context())
	if err != nil {
		writeError(w, "Failed to read outbox stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and hidden behind a 500.
func writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, entity.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, entity.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrInvalidWaypoint),
		errors.Is(err, entity.ErrRequestInProgress),
		errors.Is(err, entity.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error(msg, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// EnableCORS lets browser clients send commands with the request id header.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderRequestID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

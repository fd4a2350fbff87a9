package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is the lifecycle state of a shipment.
type ShipmentStatus string

const (
	ShipmentStatusCreated               ShipmentStatus = "Created"
	ShipmentStatusShipperAssigned       ShipmentStatus = "ShipperAssigned"
	ShipmentStatusPickedUpFromWarehouse ShipmentStatus = "PickedUpFromWarehouse"
	ShipmentStatusInTransitToWarehouse  ShipmentStatus = "InTransitToWarehouse"
	ShipmentStatusArrivedAtWarehouse    ShipmentStatus = "ArrivedAtWarehouse"
	ShipmentStatusDeliveringToCustomer  ShipmentStatus = "DeliveringToCustomer"
	ShipmentStatusDelivered             ShipmentStatus = "Delivered"
	ShipmentStatusCancelled             ShipmentStatus = "Cancelled"
	ShipmentStatusReturnedToWarehouse   ShipmentStatus = "ReturnedToWarehouse"
)

// ShipmentWaypoint is one warehouse stop on the shipment route.
type ShipmentWaypoint struct {
	ID            string     `json:"id"`
	WarehouseID   string     `json:"warehouse_id"`
	WarehouseName string     `json:"warehouse_name"`
	Sequence      int        `json:"sequence"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	DepartedAt    *time.Time `json:"departed_at,omitempty"`
}

func (w ShipmentWaypoint) Arrived() bool  { return w.ArrivedAt != nil }
func (w ShipmentWaypoint) Departed() bool { return w.DepartedAt != nil }

func (w *ShipmentWaypoint) markArrived(at time.Time) error {
	if w.Arrived() {
		return fmt.Errorf("%w: waypoint %s already arrived", ErrInvalidWaypoint, w.ID)
	}
	w.ArrivedAt = &at
	return nil
}

func (w *ShipmentWaypoint) markDeparted(at time.Time) error {
	if !w.Arrived() {
		return fmt.Errorf("%w: waypoint %s has no arrival", ErrInvalidWaypoint, w.ID)
	}
	if w.Departed() {
		return fmt.Errorf("%w: waypoint %s already departed", ErrInvalidWaypoint, w.ID)
	}
	w.DepartedAt = &at
	return nil
}

// ShipmentStatusHistory is one write-once audit entry.
type ShipmentStatusHistory struct {
	ID         string         `json:"id"`
	Status     ShipmentStatus `json:"status"`
	OccurredAt time.Time      `json:"occurred_at"`
	WaypointID string         `json:"waypoint_id,omitempty"`
	Note       string         `json:"note"`
}

// ShipmentAggregate owns shipment data, the waypoint route and the shipment state machine.
type ShipmentAggregate struct {
	AggregateBase
	OrderID           string
	ShipperID         string
	Status            ShipmentStatus
	Address           Address
	ReturnWarehouseID string
	CreatedAt         time.Time
	CompletedAt       *time.Time

	waypoints []ShipmentWaypoint
	history   []ShipmentStatusHistory
}

// NewShipmentAggregate creates a shipment in the Created status.
func NewShipmentAggregate(id, orderID string, address Address) (*ShipmentAggregate, error) {
	id = strings.TrimSpace(id)
	orderID = strings.TrimSpace(orderID)
	if id == "" {
		return nil, &ValidationError{Field: "shipment_id", Reason: "is required"}
	}
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Reason: "is required"}
	}

	now := utcNow()
	a := &ShipmentAggregate{
		AggregateBase: AggregateBase{ID: id, Version: 0},
		OrderID:       orderID,
		Address:       address,
		CreatedAt:     now,
	}
	a.transition(ShipmentStatusCreated, "", "Shipment created", now,
		ShipmentCreated{ShipmentID: id, OrderID: orderID, Address: address, OccurredAt: now})
	return a, nil
}

// RestoreShipmentAggregate rebuilds a persisted shipment without raising events.
func RestoreShipmentAggregate(base ShipmentAggregate, waypoints []ShipmentWaypoint, history []ShipmentStatusHistory) *ShipmentAggregate {
	a := &ShipmentAggregate{
		AggregateBase:     AggregateBase{ID: base.ID, Version: base.Version},
		OrderID:           base.OrderID,
		ShipperID:         base.ShipperID,
		Status:            base.Status,
		Address:           base.Address,
		ReturnWarehouseID: base.ReturnWarehouseID,
		CreatedAt:         base.CreatedAt,
		CompletedAt:       base.CompletedAt,
		waypoints:         make([]ShipmentWaypoint, len(waypoints)),
		history:           make([]ShipmentStatusHistory, len(history)),
	}
	copy(a.waypoints, waypoints)
	copy(a.history, history)
	sort.SliceStable(a.waypoints, func(i, j int) bool { return a.waypoints[i].Sequence < a.waypoints[j].Sequence })
	return a
}

// Waypoints returns the route ordered by sequence.
func (a *ShipmentAggregate) Waypoints() []ShipmentWaypoint {
	out := make([]ShipmentWaypoint, len(a.waypoints))
	copy(out, a.waypoints)
	return out
}

// History returns the status audit trail, oldest first.
func (a *ShipmentAggregate) History() []ShipmentStatusHistory {
	out := make([]ShipmentStatusHistory, len(a.history))
	copy(out, a.history)
	return out
}

// AddWaypoint appends a warehouse stop. Only allowed while the shipment is Created.
func (a *ShipmentAggregate) AddWaypoint(warehouseID, warehouseName string) (ShipmentWaypoint, error) {
	if a.Status != ShipmentStatusCreated {
		return ShipmentWaypoint{}, fmt.Errorf("%w: waypoints are locked once shipment %s leaves %s", ErrInvalidWaypoint, a.ID, ShipmentStatusCreated)
	}
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return ShipmentWaypoint{}, &ValidationError{Field: "warehouse_id", Reason: "is required"}
	}

	wp := ShipmentWaypoint{
		ID:            uuid.NewString(),
		WarehouseID:   warehouseID,
		WarehouseName: warehouseName,
		Sequence:      len(a.waypoints),
	}
	a.waypoints = append(a.waypoints, wp)
	a.record(ShipmentWaypointAdded{ShipmentID: a.ID, WaypointID: wp.ID, WarehouseID: wp.WarehouseID, Sequence: wp.Sequence})
	return wp, nil
}

func (a *ShipmentAggregate) AssignShipper(shipperID string) error {
	if a.Status != ShipmentStatusCreated && a.Status != ShipmentStatusShipperAssigned {
		return a.transitionError(ShipmentStatusShipperAssigned)
	}
	shipperID = strings.TrimSpace(shipperID)
	if shipperID == "" {
		return &ValidationError{Field: "shipper_id", Reason: "is required"}
	}

	now := utcNow()
	a.ShipperID = shipperID
	a.transition(ShipmentStatusShipperAssigned, "", "Shipper "+shipperID+" assigned", now,
		ShipmentShipperAssigned{ShipmentID: a.ID, OrderID: a.OrderID, ShipperID: shipperID, OccurredAt: now})
	return nil
}

// PickupFromWarehouse departs the given waypoint. The first waypoint of the
// route is marked arrived on the way, recorded as its own transition. When no
// waypoint remains after the pickup the shipment heads to the customer, also
// recorded as its own transition.
func (a *ShipmentAggregate) PickupFromWarehouse(waypointID string) error {
	if a.Status != ShipmentStatusShipperAssigned && a.Status != ShipmentStatusArrivedAtWarehouse {
		return a.transitionError(ShipmentStatusPickedUpFromWarehouse)
	}
	idx, err := a.waypointIndex(waypointID)
	if err != nil {
		return err
	}

	now := utcNow()
	wp := a.waypoints[idx]
	autoArrive := false
	if a.Status == ShipmentStatusShipperAssigned {
		if idx != 0 {
			return fmt.Errorf("%w: route of shipment %s starts at waypoint %s", ErrInvalidWaypoint, a.ID, a.waypoints[0].ID)
		}
		if !wp.Arrived() {
			if err := wp.markArrived(now); err != nil {
				return err
			}
			autoArrive = true
		}
	}
	if err := wp.markDeparted(now); err != nil {
		return err
	}

	a.waypoints[idx] = wp
	if autoArrive {
		a.transition(ShipmentStatusArrivedAtWarehouse, wp.ID, "Arrived at origin warehouse "+wp.label(), now,
			ShipmentArrivedAtWarehouse{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, WarehouseID: wp.WarehouseID, OccurredAt: now})
	}
	a.transition(ShipmentStatusPickedUpFromWarehouse, wp.ID, "Picked up from warehouse "+wp.label(), now,
		ShipmentPickedUp{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, WarehouseID: wp.WarehouseID, OccurredAt: now})
	if !a.hasIncompleteAfter(idx) {
		a.transition(ShipmentStatusDeliveringToCustomer, wp.ID, "Route exhausted at pickup, out for delivery", now,
			ShipmentOutForDelivery{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, OccurredAt: now})
	}
	return nil
}

func (a *ShipmentAggregate) ArriveAtWarehouse(waypointID string) error {
	if a.Status != ShipmentStatusInTransitToWarehouse && a.Status != ShipmentStatusPickedUpFromWarehouse {
		return a.transitionError(ShipmentStatusArrivedAtWarehouse)
	}
	idx, err := a.waypointIndex(waypointID)
	if err != nil {
		return err
	}
	for _, prev := range a.waypoints[:idx] {
		if !prev.Departed() {
			return fmt.Errorf("%w: waypoint %s is out of sequence, %s not departed", ErrInvalidWaypoint, waypointID, prev.ID)
		}
	}

	now := utcNow()
	wp := a.waypoints[idx]
	if err := wp.markArrived(now); err != nil {
		return err
	}

	a.waypoints[idx] = wp
	a.transition(ShipmentStatusArrivedAtWarehouse, wp.ID, "Arrived at warehouse "+wp.label(), now,
		ShipmentArrivedAtWarehouse{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, WarehouseID: wp.WarehouseID, OccurredAt: now})
	return nil
}

// DepartFromWarehouse leaves the given waypoint, heading to the next incomplete
// waypoint or to the customer when the route is exhausted.
func (a *ShipmentAggregate) DepartFromWarehouse(waypointID string) error {
	if a.Status != ShipmentStatusArrivedAtWarehouse {
		return a.transitionError(ShipmentStatusInTransitToWarehouse)
	}
	idx, err := a.waypointIndex(waypointID)
	if err != nil {
		return err
	}

	now := utcNow()
	wp := a.waypoints[idx]
	if err := wp.markDeparted(now); err != nil {
		return err
	}
	a.waypoints[idx] = wp

	for _, next := range a.waypoints[idx+1:] {
		if next.Departed() {
			continue
		}
		a.transition(ShipmentStatusInTransitToWarehouse, wp.ID, "Departed "+wp.label()+" toward "+next.label(), now,
			ShipmentDepartedWarehouse{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, NextWaypointID: next.ID, OccurredAt: now})
		return nil
	}

	a.transition(ShipmentStatusDeliveringToCustomer, wp.ID, "Departed "+wp.label()+", out for delivery", now,
		ShipmentOutForDelivery{ShipmentID: a.ID, OrderID: a.OrderID, WaypointID: wp.ID, OccurredAt: now})
	return nil
}

func (a *ShipmentAggregate) MarkDelivered() error {
	if a.Status != ShipmentStatusDeliveringToCustomer {
		return a.transitionError(ShipmentStatusDelivered)
	}
	now := utcNow()
	a.CompletedAt = &now
	a.transition(ShipmentStatusDelivered, "", "Delivered to customer", now,
		ShipmentDelivered{ShipmentID: a.ID, OrderID: a.OrderID, OccurredAt: now})
	return nil
}

// Cancel stops the shipment. Without an explicit return warehouse the goods
// go back to the last warehouse reached.
func (a *ShipmentAggregate) Cancel(returnWarehouseID string) error {
	switch a.Status {
	case ShipmentStatusDelivered, ShipmentStatusCancelled, ShipmentStatusReturnedToWarehouse:
		return a.transitionError(ShipmentStatusCancelled)
	}

	returnWarehouseID = strings.TrimSpace(returnWarehouseID)
	waypointID := ""
	if returnWarehouseID == "" {
		if wp, ok := a.LastWarehouseReached(); ok {
			returnWarehouseID = wp.WarehouseID
			waypointID = wp.ID
		}
	}

	now := utcNow()
	a.ReturnWarehouseID = returnWarehouseID
	a.transition(ShipmentStatusCancelled, waypointID, "Cancelled, returning to warehouse "+returnWarehouseID, now,
		ShipmentCancelled{ShipmentID: a.ID, OrderID: a.OrderID, ReturnWarehouseID: returnWarehouseID, OccurredAt: now})
	return nil
}

func (a *ShipmentAggregate) ReturnToWarehouse() error {
	if a.Status != ShipmentStatusCancelled {
		return a.transitionError(ShipmentStatusReturnedToWarehouse)
	}
	now := utcNow()
	a.CompletedAt = &now
	a.transition(ShipmentStatusReturnedToWarehouse, "", "Returned to warehouse "+a.ReturnWarehouseID, now,
		ShipmentReturned{ShipmentID: a.ID, OrderID: a.OrderID, WarehouseID: a.ReturnWarehouseID, OccurredAt: now})
	return nil
}

// LastWarehouseReached is the most recently arrived waypoint, or the first
// waypoint when nothing has arrived yet.
func (a *ShipmentAggregate) LastWarehouseReached() (ShipmentWaypoint, bool) {
	if len(a.waypoints) == 0 {
		return ShipmentWaypoint{}, false
	}
	var last *ShipmentWaypoint
	for i := range a.waypoints {
		wp := &a.waypoints[i]
		if !wp.Arrived() {
			continue
		}
		if last == nil || !wp.ArrivedAt.Before(*last.ArrivedAt) {
			last = wp
		}
	}
	if last == nil {
		return a.waypoints[0], true
	}
	return *last, true
}

func (a *ShipmentAggregate) transition(status ShipmentStatus, waypointID, note string, at time.Time, e Event) {
	a.Status = status
	a.history = append(a.history, ShipmentStatusHistory{
		ID:         uuid.NewString(),
		Status:     status,
		OccurredAt: at,
		WaypointID: waypointID,
		Note:       note,
	})
	a.record(e)
}

func (a *ShipmentAggregate) hasIncompleteAfter(idx int) bool {
	for _, wp := range a.waypoints[idx+1:] {
		if !wp.Departed() {
			return true
		}
	}
	return false
}

func (a *ShipmentAggregate) waypointIndex(waypointID string) (int, error) {
	for i := range a.waypoints {
		if a.waypoints[i].ID == waypointID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: waypoint %s is not on shipment %s", ErrInvalidWaypoint, waypointID, a.ID)
}

func (a *ShipmentAggregate) transitionError(to ShipmentStatus) error {
	return &TransitionError{Aggregate: "shipment", ID: a.ID, From: string(a.Status), To: string(to)}
}

func (w ShipmentWaypoint) label() string {
	if w.WarehouseName != "" {
		return w.WarehouseName
	}
	return w.WarehouseID
}

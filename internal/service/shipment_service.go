package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

// Shipment command names.
const (
	CommandCreateShipment      = "CreateShipment"
	CommandAssignShipper       = "AssignShipper"
	CommandPickupShipment      = "PickupShipment"
	CommandArriveAtWarehouse   = "ArriveAtWarehouse"
	CommandDepartFromWarehouse = "DepartFromWarehouse"
	CommandCompleteShipment    = "CompleteShipment"
	CommandCancelShipment      = "CancelShipment"
	CommandCancelOrderShipment = "CancelOrderShipment"
	CommandReturnShipment      = "ReturnShipment"
)

// WaypointInput is one warehouse stop of a CreateShipment command.
type WaypointInput struct {
	WarehouseID   string `json:"warehouse_id"`
	WarehouseName string `json:"warehouse_name"`
}

// CreateShipment is the payload of CommandCreateShipment.
type CreateShipment struct {
	OrderID   string          `json:"order_id"`
	Address   entity.Address  `json:"address"`
	Waypoints []WaypointInput `json:"waypoints"`
}

// ShipmentService orchestrates the shipment lifecycle commands.
type ShipmentService struct {
	shipments repository.ShipmentRepository
	guard     *IdempotencyGuard
	publisher TransactionPublisher
}

func NewShipmentService(shipments repository.ShipmentRepository, guard *IdempotencyGuard, publisher TransactionPublisher) *ShipmentService {
	return &ShipmentService{
		shipments: shipments,
		guard:     guard,
		publisher: publisher,
	}
}

func (s *ShipmentService) GetShipment(ctx context.Context, shipmentID string) (*entity.ShipmentAggregate, error) {
	return s.shipments.Get(ctx, shipmentID)
}

// CreateForOrder opens the shipment of a paid order. An order gets at most
// one shipment; a second request reports the existing one as not applied.
func (s *ShipmentService) CreateForOrder(ctx context.Context, requestID string, cmd CreateShipment) (entity.CommandResult, error) {
	return s.guard.Execute(ctx, requestID, CommandCreateShipment, func(ctx context.Context) (entity.CommandResult, error) {
		if len(cmd.Waypoints) == 0 {
			return entity.CommandResult{}, &entity.ValidationError{Field: "waypoints", Reason: "shipment needs at least one warehouse"}
		}

		existing, err := s.shipments.FindByOrderID(ctx, cmd.OrderID)
		if err == nil {
			slog.Info("Service: Shipment already exists for order", "order_id", cmd.OrderID, "shipment_id", existing.ID)
			return entity.CommandResult{AggregateID: existing.ID, Applied: false, Status: string(existing.Status)}, nil
		}
		if !errors.Is(err, entity.ErrNotFound) {
			return entity.CommandResult{}, fmt.Errorf("failed to look up shipment of order %s: %w", cmd.OrderID, err)
		}

		shipment, err := entity.NewShipmentAggregate(uuid.NewString(), cmd.OrderID, cmd.Address)
		if err != nil {
			return entity.CommandResult{}, err
		}
		for _, wp := range cmd.Waypoints {
			if _, err := shipment.AddWaypoint(wp.WarehouseID, wp.WarehouseName); err != nil {
				return entity.CommandResult{}, err
			}
		}

		res, err := s.shipments.Save(ctx, shipment)
		if err != nil {
			return entity.CommandResult{}, fmt.Errorf("failed to save shipment for order %s: %w", cmd.OrderID, err)
		}
		slog.Info("Service: Shipment created", "shipment_id", shipment.ID, "order_id", cmd.OrderID, "waypoints", len(cmd.Waypoints))
		publishCommitted(ctx, s.publisher, res)
		return entity.CommandResult{AggregateID: shipment.ID, Applied: true, Status: string(shipment.Status)}, nil
	})
}

func (s *ShipmentService) AssignShipper(ctx context.Context, requestID, shipmentID, shipperID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandAssignShipper, shipmentID, func(sh *entity.ShipmentAggregate) error {
		return sh.AssignShipper(shipperID)
	})
}

func (s *ShipmentService) Pickup(ctx context.Context, requestID, shipmentID, waypointID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandPickupShipment, shipmentID, func(sh *entity.ShipmentAggregate) error {
		return sh.PickupFromWarehouse(waypointID)
	})
}

func (s *ShipmentService) Arrive(ctx context.Context, requestID, shipmentID, waypointID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandArriveAtWarehouse, shipmentID, func(sh *entity.ShipmentAggregate) error {
		return sh.ArriveAtWarehouse(waypointID)
	})
}

func (s *ShipmentService) Depart(ctx context.Context, requestID, shipmentID, waypointID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandDepartFromWarehouse, shipmentID, func(sh *entity.ShipmentAggregate) error {
		return sh.DepartFromWarehouse(waypointID)
	})
}

// Complete marks the shipment delivered to the customer.
func (s *ShipmentService) Complete(ctx context.Context, requestID, shipmentID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandCompleteShipment, shipmentID, (*entity.ShipmentAggregate).MarkDelivered)
}

// Cancel stops a shipment. An empty returnWarehouseID sends the goods back to
// the last warehouse reached.
func (s *ShipmentService) Cancel(ctx context.Context, requestID, shipmentID, returnWarehouseID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandCancelShipment, shipmentID, func(sh *entity.ShipmentAggregate) error {
		return sh.Cancel(returnWarehouseID)
	})
}

// CancelForOrder cancels the shipment of an order, if it has one.
func (s *ShipmentService) CancelForOrder(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.guard.Execute(ctx, requestID, CommandCancelOrderShipment, func(ctx context.Context) (entity.CommandResult, error) {
		for attempt := 1; ; attempt++ {
			shipment, err := s.shipments.FindByOrderID(ctx, orderID)
			if errors.Is(err, entity.ErrNotFound) {
				slog.Info("Service: No shipment to cancel", "order_id", orderID)
				return entity.CommandResult{Applied: false}, nil
			}
			if err != nil {
				return entity.CommandResult{}, fmt.Errorf("failed to look up shipment of order %s: %w", orderID, err)
			}

			result, err := s.apply(ctx, CommandCancelOrderShipment, shipment, func(sh *entity.ShipmentAggregate) error {
				return sh.Cancel("")
			})
			if errors.Is(err, entity.ErrConcurrencyConflict) && attempt < saveAttempts {
				continue
			}
			return result, err
		}
	})
}

func (s *ShipmentService) Return(ctx context.Context, requestID, shipmentID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandReturnShipment, shipmentID, (*entity.ShipmentAggregate).ReturnToWarehouse)
}

func (s *ShipmentService) mutate(ctx context.Context, requestID, command, shipmentID string, change func(*entity.ShipmentAggregate) error) (entity.CommandResult, error) {
	return s.guard.Execute(ctx, requestID, command, func(ctx context.Context) (entity.CommandResult, error) {
		for attempt := 1; ; attempt++ {
			shipment, err := s.shipments.Get(ctx, shipmentID)
			if errors.Is(err, entity.ErrNotFound) {
				slog.Info("Service: Shipment not found", "shipment_id", shipmentID, "command", command)
				return entity.CommandResult{AggregateID: shipmentID, Applied: false}, nil
			}
			if err != nil {
				return entity.CommandResult{}, fmt.Errorf("failed to load shipment %s: %w", shipmentID, err)
			}

			result, err := s.apply(ctx, command, shipment, change)
			if errors.Is(err, entity.ErrConcurrencyConflict) && attempt < saveAttempts {
				slog.Warn("Service: Shipment changed concurrently, retrying", "shipment_id", shipmentID, "command", command, "attempt", attempt)
				continue
			}
			return result, err
		}
	})
}

func (s *ShipmentService) apply(ctx context.Context, command string, shipment *entity.ShipmentAggregate, change func(*entity.ShipmentAggregate) error) (entity.CommandResult, error) {
	if err := change(shipment); err != nil {
		return entity.CommandResult{}, err
	}
	res, err := s.shipments.Save(ctx, shipment)
	if err != nil {
		return entity.CommandResult{}, fmt.Errorf("failed to save shipment %s: %w", shipment.ID, err)
	}
	slog.Info("Service: Shipment updated", "shipment_id", shipment.ID, "command", command, "status", shipment.Status)
	publishCommitted(ctx, s.publisher, res)
	return entity.CommandResult{AggregateID: shipment.ID, Applied: true, Status: string(shipment.Status)}, nil
}

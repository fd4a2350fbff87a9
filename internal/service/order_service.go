package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

// Order command names, also used as idempotency record names.
const (
	CommandCreateOrder           = "CreateOrder"
	CommandSetAwaitingValidation = "SetAwaitingValidation"
	CommandConfirmStock          = "ConfirmStock"
	CommandRejectStock           = "RejectStock"
	CommandSetPaid               = "SetPaid"
	CommandShipOrder             = "ShipOrder"
	CommandCancelOrder           = "CancelOrder"
	CommandRequestReturn         = "RequestReturn"
	CommandReceiveReturn         = "ReceiveReturn"
	CommandRefundOrder           = "RefundOrder"
)

// saveAttempts bounds how often a command reloads the aggregate after losing
// an optimistic version race.
const saveAttempts = 3

// OrderItemInput is one line of a CreateOrder command.
type OrderItemInput struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Units       int             `json:"units"`
	PictureURL  string          `json:"picture_url"`
}

// CreateOrder is the payload of CommandCreateOrder. OrderID is generated when empty.
type CreateOrder struct {
	OrderID string           `json:"order_id"`
	BuyerID string           `json:"buyer_id"`
	Address entity.Address   `json:"address"`
	Items   []OrderItemInput `json:"items"`
}

// OrderService orchestrates the order lifecycle commands.
type OrderService struct {
	orders    repository.OrderRepository
	identity  IdentityLookup
	guard     *IdempotencyGuard
	publisher TransactionPublisher
}

// NewOrderService wires the order commands. publisher may be nil, in which
// case events wait for the background outbox loop.
func NewOrderService(
	orders repository.OrderRepository,
	identity IdentityLookup,
	guard *IdempotencyGuard,
	publisher TransactionPublisher,
) *OrderService {
	return &OrderService{
		orders:    orders,
		identity:  identity,
		guard:     guard,
		publisher: publisher,
	}
}

// GetOrder loads an order by id.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entity.OrderAggregate, error) {
	return s.orders.Get(ctx, orderID)
}

// CreateOrder places a new order in the Submitted status.
func (s *OrderService) CreateOrder(ctx context.Context, requestID string, cmd CreateOrder) (entity.CommandResult, error) {
	return s.guard.Execute(ctx, requestID, CommandCreateOrder, func(ctx context.Context) (entity.CommandResult, error) {
		if len(cmd.Items) == 0 {
			return entity.CommandResult{}, &entity.ValidationError{Field: "items", Reason: "order must have at least one item"}
		}
		orderID := strings.TrimSpace(cmd.OrderID)
		if orderID == "" {
			orderID = uuid.NewString()
		}
		slog.Info("Service: Creating order", "order_id", orderID, "buyer_id", cmd.BuyerID, "items", len(cmd.Items))

		buyer, err := s.identity.LookupBuyer(ctx, cmd.BuyerID)
		if err != nil {
			return entity.CommandResult{}, fmt.Errorf("failed to look up buyer %s: %w", cmd.BuyerID, err)
		}

		order, err := entity.NewOrderAggregate(orderID, cmd.BuyerID, buyer.Name, cmd.Address)
		if err != nil {
			return entity.CommandResult{}, err
		}
		for _, item := range cmd.Items {
			if err := order.AddOrderItem(item.ProductID, item.ProductName, item.UnitPrice, item.Discount, item.PictureURL, item.Units); err != nil {
				return entity.CommandResult{}, err
			}
		}

		res, err := s.orders.Save(ctx, order)
		if err != nil {
			return entity.CommandResult{}, fmt.Errorf("failed to save order %s: %w", orderID, err)
		}
		s.publishCommitted(ctx, res)
		return entity.CommandResult{AggregateID: orderID, Applied: true, Status: string(order.Status)}, nil
	})
}

// SetAwaitingValidation ends the grace period of a submitted order.
func (s *OrderService) SetAwaitingValidation(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandSetAwaitingValidation, orderID, (*entity.OrderAggregate).SetAwaitingValidationStatus)
}

func (s *OrderService) ConfirmStock(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandConfirmStock, orderID, (*entity.OrderAggregate).SetStockConfirmedStatus)
}

// RejectStock cancels an order whose stock check failed for the given products.
func (s *OrderService) RejectStock(ctx context.Context, requestID, orderID string, rejectedProductIDs []string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandRejectStock, orderID, func(order *entity.OrderAggregate) error {
		return order.SetCancelledStatusWhenStockIsRejected(rejectedProductIDs)
	})
}

func (s *OrderService) SetPaid(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandSetPaid, orderID, (*entity.OrderAggregate).SetPaidStatus)
}

func (s *OrderService) Ship(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandShipOrder, orderID, (*entity.OrderAggregate).SetShippedStatus)
}

func (s *OrderService) Cancel(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandCancelOrder, orderID, (*entity.OrderAggregate).SetCancelledStatus)
}

func (s *OrderService) RequestReturn(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandRequestReturn, orderID, (*entity.OrderAggregate).SetAwaitingReturnStatus)
}

func (s *OrderService) ReceiveReturn(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandReceiveReturn, orderID, (*entity.OrderAggregate).SetReceivedReturnStatus)
}

func (s *OrderService) Refund(ctx context.Context, requestID, orderID string) (entity.CommandResult, error) {
	return s.mutate(ctx, requestID, CommandRefundOrder, orderID, (*entity.OrderAggregate).SetRefundedStatus)
}

// mutate loads the order, applies one transition and saves it under the
// idempotency guard. An unknown order is reported as not applied.
func (s *OrderService) mutate(ctx context.Context, requestID, command, orderID string, apply func(*entity.OrderAggregate) error) (entity.CommandResult, error) {
	return s.guard.Execute(ctx, requestID, command, func(ctx context.Context) (entity.CommandResult, error) {
		for attempt := 1; ; attempt++ {
			order, err := s.orders.Get(ctx, orderID)
			if errors.Is(err, entity.ErrNotFound) {
				slog.Info("Service: Order not found", "order_id", orderID, "command", command)
				return entity.CommandResult{AggregateID: orderID, Applied: false}, nil
			}
			if err != nil {
				return entity.CommandResult{}, fmt.Errorf("failed to load order %s: %w", orderID, err)
			}

			if err := apply(order); err != nil {
				return entity.CommandResult{}, err
			}

			res, err := s.orders.Save(ctx, order)
			if errors.Is(err, entity.ErrConcurrencyConflict) && attempt < saveAttempts {
				slog.Warn("Service: Order changed concurrently, retrying", "order_id", orderID, "command", command, "attempt", attempt)
				continue
			}
			if err != nil {
				return entity.CommandResult{}, fmt.Errorf("failed to save order %s: %w", orderID, err)
			}

			slog.Info("Service: Order updated", "order_id", orderID, "command", command, "status", order.Status)
			s.publishCommitted(ctx, res)
			return entity.CommandResult{AggregateID: orderID, Applied: true, Status: string(order.Status)}, nil
		}
	})
}

func (s *OrderService) publishCommitted(ctx context.Context, res repository.SaveResult) {
	publishCommitted(ctx, s.publisher, res)
}

// publishCommitted hands a committed save to the outbox publisher. Failures
// are left to the background loop.
func publishCommitted(ctx context.Context, publisher TransactionPublisher, res repository.SaveResult) {
	if publisher == nil || len(res.IntegrationEvents) == 0 {
		return
	}
	if err := publisher.PublishTransaction(context.WithoutCancel(ctx), res.TransactionID); err != nil {
		slog.Warn("Service: Inline publish incomplete, outbox loop will retry", "transaction_id", res.TransactionID, "err", err)
	}
}

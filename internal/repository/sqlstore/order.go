package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/integration"
	"github.com/egannguyen/go-kafka-ecommerce/fulfillment/internal/repository"
)

type orderRepository struct {
	db         *DB
	translator integration.Translator
}

// NewOrderRepository creates an OrderRepository whose saves also write the
// translated integration events to the outbox.
func NewOrderRepository(db *DB, translator integration.Translator) repository.OrderRepository {
	if translator == nil {
		translator = integration.DomainTranslator{}
	}
	return &orderRepository{db: db, translator: translator}
}

func (r *orderRepository) Get(ctx context.Context, id string) (*entity.OrderAggregate, error) {
	var (
		version     int
		buyerID     string
		buyerName   string
		address     entity.Address
		status      string
		description string
		createdAt   int64
	)
	err := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT version, buyer_id, buyer_name, street, city, state, country, zip_code,
			status, description, created_at
		FROM orders WHERE id = ?`), id).Scan(
		&version, &buyerID, &buyerName,
		&address.Street, &address.City, &address.State, &address.Country, &address.ZipCode,
		&status, &description, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT product_id, product_name, unit_price, discount, units, picture_url
		FROM order_items WHERE order_id = ? ORDER BY position ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load items for order %s: %w", id, err)
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		var item entity.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.UnitPrice, &item.Discount, &item.Units, &item.PictureURL); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return entity.RestoreOrderAggregate(id, version, buyerID, buyerName, address,
		entity.OrderStatus(status), description, fromMillis(createdAt), items), nil
}

func (r *orderRepository) Save(ctx context.Context, order *entity.OrderAggregate) (repository.SaveResult, error) {
	events := order.Changes()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.SaveResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newVersion, err := r.writeOrder(ctx, tx, order)
	if err != nil {
		return repository.SaveResult{}, err
	}

	transactionID, integrationEvents, err := r.db.appendToOutbox(ctx, tx, r.translator, order.ID, newVersion, events, now)
	if err != nil {
		return repository.SaveResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return repository.SaveResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	order.Version = newVersion
	order.ClearChanges()
	return repository.SaveResult{
		TransactionID:     transactionID,
		Events:            events,
		IntegrationEvents: integrationEvents,
	}, nil
}

// writeOrder upserts the order row under the optimistic version check and
// replaces its item lines.
func (r *orderRepository) writeOrder(ctx context.Context, tx *sql.Tx, order *entity.OrderAggregate) (int, error) {
	a := order.Address
	newVersion := order.Version + 1

	var result sql.Result
	var err error
	if order.Version == 0 {
		result, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO orders (id, version, buyer_id, buyer_name, street, city, state, country, zip_code,
				status, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			order.ID, newVersion, order.BuyerID, order.BuyerName,
			a.Street, a.City, a.State, a.Country, a.ZipCode,
			string(order.Status), order.Description, toMillis(order.CreatedAt),
		)
	} else {
		result, err = tx.ExecContext(ctx, r.db.rebind(`
			UPDATE orders
			SET version = ?, buyer_name = ?, status = ?, description = ?
			WHERE id = ? AND version = ?`),
			newVersion, order.BuyerName, string(order.Status), order.Description,
			order.ID, order.Version,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write order %s: %w", order.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected for order %s: %w", order.ID, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("order %s at version %d: %w", order.ID, order.Version, entity.ErrConcurrencyConflict)
	}

	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM order_items WHERE order_id = ?`), order.ID); err != nil {
		return 0, fmt.Errorf("failed to clear items for order %s: %w", order.ID, err)
	}
	for i, item := range order.Items() {
		_, err := tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO order_items (order_id, position, product_id, product_name, unit_price, discount, units, picture_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			order.ID, i, item.ProductID, item.ProductName,
			item.UnitPrice.String(), item.Discount.String(), item.Units, item.PictureURL,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item %s for order %s: %w", item.ProductID, order.ID, err)
		}
	}
	return newVersion, nil
}

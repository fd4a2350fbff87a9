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

type shipmentRepository struct {
	db         *DB
	translator integration.Translator
}

// NewShipmentRepository creates a ShipmentRepository backed by db.
func NewShipmentRepository(db *DB, translator integration.Translator) repository.ShipmentRepository {
	if translator == nil {
		translator = integration.DomainTranslator{}
	}
	return &shipmentRepository{db: db, translator: translator}
}

func (r *shipmentRepository) Get(ctx context.Context, id string) (*entity.ShipmentAggregate, error) {
	var (
		base        entity.ShipmentAggregate
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	a := &base.Address
	err := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, version, order_id, shipper_id, status, street, city, state, country, zip_code,
			return_warehouse_id, created_at, completed_at
		FROM shipments WHERE id = ?`), id).Scan(
		&base.ID, &base.Version, &base.OrderID, &base.ShipperID, &status,
		&a.Street, &a.City, &a.State, &a.Country, &a.ZipCode,
		&base.ReturnWarehouseID, &createdAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shipment %s: %w", id, err)
	}
	base.Status = entity.ShipmentStatus(status)
	base.CreatedAt = fromMillis(createdAt)
	base.CompletedAt = timePtr(completedAt)

	waypoints, err := r.loadWaypoints(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := r.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return entity.RestoreShipmentAggregate(base, waypoints, history), nil
}

func (r *shipmentRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.ShipmentAggregate, error) {
	var id string
	err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT id FROM shipments WHERE order_id = ?`), orderID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find shipment for order %s: %w", orderID, err)
	}
	return r.Get(ctx, id)
}

func (r *shipmentRepository) loadWaypoints(ctx context.Context, shipmentID string) ([]entity.ShipmentWaypoint, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, warehouse_id, warehouse_name, sequence, arrived_at, departed_at
		FROM shipment_waypoints WHERE shipment_id = ? ORDER BY sequence ASC`), shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load waypoints for shipment %s: %w", shipmentID, err)
	}
	defer rows.Close()

	var waypoints []entity.ShipmentWaypoint
	for rows.Next() {
		var w entity.ShipmentWaypoint
		var arrived, departed sql.NullInt64
		if err := rows.Scan(&w.ID, &w.WarehouseID, &w.WarehouseName, &w.Sequence, &arrived, &departed); err != nil {
			return nil, fmt.Errorf("failed to scan waypoint: %w", err)
		}
		w.ArrivedAt = timePtr(arrived)
		w.DepartedAt = timePtr(departed)
		waypoints = append(waypoints, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waypoints: %w", err)
	}
	return waypoints, nil
}

func (r *shipmentRepository) loadHistory(ctx context.Context, shipmentID string) ([]entity.ShipmentStatusHistory, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, status, occurred_at, waypoint_id, note
		FROM shipment_status_history WHERE shipment_id = ? ORDER BY position ASC`), shipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for shipment %s: %w", shipmentID, err)
	}
	defer rows.Close()

	var history []entity.ShipmentStatusHistory
	for rows.Next() {
		var (
			h          entity.ShipmentStatusHistory
			status     string
			occurredAt int64
		)
		if err := rows.Scan(&h.ID, &status, &occurredAt, &h.WaypointID, &h.Note); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		h.Status = entity.ShipmentStatus(status)
		h.OccurredAt = fromMillis(occurredAt)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return history, nil
}

func (r *shipmentRepository) Save(ctx context.Context, shipment *entity.ShipmentAggregate) (repository.SaveResult, error) {
	events := shipment.Changes()
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return repository.SaveResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	newVersion, err := r.writeShipment(ctx, tx, shipment)
	if err != nil {
		return repository.SaveResult{}, err
	}

	transactionID, integrationEvents, err := r.db.appendToOutbox(ctx, tx, r.translator, shipment.ID, newVersion, events, now)
	if err != nil {
		return repository.SaveResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return repository.SaveResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	shipment.Version = newVersion
	shipment.ClearChanges()
	return repository.SaveResult{
		TransactionID:     transactionID,
		Events:            events,
		IntegrationEvents: integrationEvents,
	}, nil
}

func (r *shipmentRepository) writeShipment(ctx context.Context, tx *sql.Tx, s *entity.ShipmentAggregate) (int, error) {
	a := s.Address
	newVersion := s.Version + 1

	var result sql.Result
	var err error
	if s.Version == 0 {
		result, err = tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO shipments (id, version, order_id, shipper_id, status, street, city, state, country, zip_code,
				return_warehouse_id, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			s.ID, newVersion, s.OrderID, s.ShipperID, string(s.Status),
			a.Street, a.City, a.State, a.Country, a.ZipCode,
			s.ReturnWarehouseID, toMillis(s.CreatedAt), nullMillis(s.CompletedAt),
		)
	} else {
		result, err = tx.ExecContext(ctx, r.db.rebind(`
			UPDATE shipments
			SET version = ?, shipper_id = ?, status = ?, return_warehouse_id = ?, completed_at = ?
			WHERE id = ? AND version = ?`),
			newVersion, s.ShipperID, string(s.Status), s.ReturnWarehouseID, nullMillis(s.CompletedAt),
			s.ID, s.Version,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write shipment %s: %w", s.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected for shipment %s: %w", s.ID, err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("shipment %s at version %d: %w", s.ID, s.Version, entity.ErrConcurrencyConflict)
	}

	if _, err := tx.ExecContext(ctx, r.db.rebind(`DELETE FROM shipment_waypoints WHERE shipment_id = ?`), s.ID); err != nil {
		return 0, fmt.Errorf("failed to clear waypoints for shipment %s: %w", s.ID, err)
	}
	for _, w := range s.Waypoints() {
		_, err := tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO shipment_waypoints (id, shipment_id, warehouse_id, warehouse_name, sequence, arrived_at, departed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			w.ID, s.ID, w.WarehouseID, w.WarehouseName, w.Sequence, nullMillis(w.ArrivedAt), nullMillis(w.DepartedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert waypoint %s: %w", w.ID, err)
		}
	}

	// history is append-only: existing entries are never rewritten
	for i, h := range s.History() {
		_, err := tx.ExecContext(ctx, r.db.rebind(`
			INSERT INTO shipment_status_history (id, shipment_id, position, status, occurred_at, waypoint_id, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			h.ID, s.ID, i, string(h.Status), toMillis(h.OccurredAt), h.WaypointID, h.Note,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append history entry %s: %w", h.ID, err)
		}
	}
	return newVersion, nil
}

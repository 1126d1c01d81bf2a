package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// adjust applies a signed delta to one (item, warehouse) level and appends the
// matching movement row. It only ever runs inside a caller's transaction.
// The upsert increments in place, so concurrent batches on the same row both
// land instead of one overwriting the other.
func (s *Store) adjust(ctx context.Context, tx *sqlx.Tx, adj domain.StockAdjustment, at time.Time) (int64, error) {
	var level int64
	err := tx.GetContext(ctx, &level, tx.Rebind(`
		INSERT INTO inventory (item_id, warehouse_id, current_stock, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (item_id, warehouse_id)
		DO UPDATE SET current_stock = inventory.current_stock + excluded.current_stock,
			updated_at = excluded.updated_at
		RETURNING current_stock
	`), adj.ItemID, adj.WarehouseID, adj.Delta, at)
	if err != nil {
		return 0, fmt.Errorf("adjust inventory: %w", err)
	}

	if level < 0 && adj.Delta < 0 && !s.allowNegative {
		return 0, fmt.Errorf("%w: item %s at warehouse %s would fall to %d", store.ErrInsufficientStock, adj.ItemID, adj.WarehouseID, level)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO stock_movements (id, item_id, warehouse_id, movement_type, quantity, reference_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.New(), adj.ItemID, adj.WarehouseID, adj.MovementType, adj.Delta, adj.ReferenceID, adj.Notes, at)
	if err != nil {
		return 0, fmt.Errorf("insert stock movement: %w", err)
	}

	return level, nil
}

// AdjustInventory applies a single restock or manual adjustment as its own batch.
func (s *Store) AdjustInventory(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryLevel, error) {
	if adj.Delta == 0 {
		return nil, fmt.Errorf("%w: adjustment delta must not be zero", store.ErrInvalidInput)
	}
	if adj.MovementType == "" {
		adj.MovementType = domain.MovementRestock
	}

	var level *domain.InventoryLevel
	err := s.withTx(ctx, "adjust inventory", func(tx *sqlx.Tx) error {
		now := s.now()
		if _, err := s.adjust(ctx, tx, adj, now); err != nil {
			return err
		}
		loaded, err := getInventoryLevel(ctx, tx, adj.ItemID, adj.WarehouseID)
		if err != nil {
			return err
		}
		level = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return level, nil
}

// GetInventoryLevel reports zero stock for a pair that has never moved.
func (s *Store) GetInventoryLevel(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID) (*domain.InventoryLevel, error) {
	level, err := getInventoryLevel(ctx, s.db, itemID, warehouseID)
	if err != nil {
		return nil, storageErr("get inventory level", err)
	}
	return level, nil
}

func (s *Store) ListMovements(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 50
	}
	movements := make([]domain.StockMovement, 0, limit)
	err := s.db.SelectContext(ctx, &movements, s.db.Rebind(`
		SELECT id, item_id, warehouse_id, movement_type, quantity, reference_id, notes, created_at
		FROM stock_movements
		WHERE item_id = ? AND warehouse_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`), itemID, warehouseID, limit)
	if err != nil {
		return nil, storageErr("list movements", err)
	}
	return movements, nil
}

func getInventoryLevel(ctx context.Context, q sqlx.ExtContext, itemID uuid.UUID, warehouseID uuid.UUID) (*domain.InventoryLevel, error) {
	var level domain.InventoryLevel
	err := sqlx.GetContext(ctx, q, &level, q.Rebind(`
		SELECT item_id, warehouse_id, current_stock, updated_at
		FROM inventory
		WHERE item_id = ? AND warehouse_id = ?
	`), itemID, warehouseID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.InventoryLevel{ItemID: itemID, WarehouseID: warehouseID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &level, nil
}

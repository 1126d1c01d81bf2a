package sqlstore

import (
	"context"
	"log"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS operators (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pos_sessions (
		id UUID PRIMARY KEY,
		operator_id UUID NOT NULL,
		warehouse_id UUID NOT NULL,
		starting_cash NUMERIC(14,2) NOT NULL,
		current_cash NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'closed')),
		opened_at TIMESTAMPTZ NOT NULL,
		closing_cash NUMERIC(14,2),
		cash_difference NUMERIC(14,2),
		closing_notes TEXT NOT NULL DEFAULT '',
		closed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS pos_sessions_one_active_per_operator
		ON pos_sessions (operator_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS sales (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES pos_sessions(id),
		customer_id UUID,
		total_amount NUMERIC(14,2) NOT NULL,
		discount_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		tax_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		amount_paid NUMERIC(14,2) NOT NULL,
		change_amount NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('completed', 'voided')),
		notes TEXT NOT NULL DEFAULT '',
		void_reason TEXT,
		voided_by UUID,
		voided_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sales_session_idx ON sales (session_id)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id UUID PRIMARY KEY,
		sale_id UUID NOT NULL REFERENCES sales(id),
		line_no INTEGER NOT NULL,
		item_id UUID NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL CHECK (unit_price >= 0),
		total_price NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		item_id UUID NOT NULL,
		warehouse_id UUID NOT NULL,
		current_stock BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (item_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id UUID PRIMARY KEY,
		item_id UUID NOT NULL,
		warehouse_id UUID NOT NULL,
		movement_type TEXT NOT NULL CHECK (movement_type IN ('sale', 'void', 'restock', 'adjustment')),
		quantity BIGINT NOT NULL,
		reference_id UUID,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_item_idx ON stock_movements (item_id, warehouse_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_reference_idx ON stock_movements (reference_id)`,
}

// Money is TEXT so decimal values round-trip exactly.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pos_sessions (
		id TEXT PRIMARY KEY,
		operator_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		starting_cash TEXT NOT NULL,
		current_cash TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('active', 'closed')),
		opened_at DATETIME NOT NULL,
		closing_cash TEXT,
		cash_difference TEXT,
		closing_notes TEXT NOT NULL DEFAULT '',
		closed_at DATETIME,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS pos_sessions_one_active_per_operator
		ON pos_sessions (operator_id) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES pos_sessions(id),
		customer_id TEXT,
		total_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL DEFAULT '0',
		tax_amount TEXT NOT NULL DEFAULT '0',
		amount_paid TEXT NOT NULL,
		change_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('completed', 'voided')),
		notes TEXT NOT NULL DEFAULT '',
		void_reason TEXT,
		voided_by TEXT,
		voided_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sales_session_idx ON sales (session_id)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		current_stock INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (item_id, warehouse_id)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		movement_type TEXT NOT NULL CHECK (movement_type IN ('sale', 'void', 'restock', 'adjustment')),
		quantity INTEGER NOT NULL,
		reference_id TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_item_idx ON stock_movements (item_id, warehouse_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_reference_idx ON stock_movements (reference_id)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	log.Printf("[sqlstore] schema ready (%s, %d statements)", s.dialect.name, len(s.dialect.schema))
	return nil
}

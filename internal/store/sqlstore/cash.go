package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

// credit and debit move the drawer balance of an active session. They are only
// reachable from the sale and void batches.
func (s *Store) credit(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	return s.moveCash(ctx, tx, sessionID, amount, at)
}

func (s *Store) debit(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	return s.moveCash(ctx, tx, sessionID, amount.Neg(), at)
}

func (s *Store) moveCash(ctx context.Context, tx *sqlx.Tx, sessionID uuid.UUID, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	var current decimal.Decimal
	err := tx.GetContext(ctx, &current, tx.Rebind(`
		SELECT current_cash
		FROM pos_sessions
		WHERE id = ? AND status = ?`+s.dialect.lock), sessionID, domain.SessionStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, store.ErrSessionNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read session cash: %w", err)
	}

	next := current.Add(delta)
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE pos_sessions
		SET current_cash = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`), next, at, sessionID, domain.SessionStatusActive)
	if err != nil {
		return decimal.Zero, fmt.Errorf("update session cash: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return decimal.Zero, store.ErrSessionNotFound
	}
	return next, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

const sessionColumns = `id, operator_id, warehouse_id, starting_cash, current_cash, status,
	opened_at, closing_cash, cash_difference, closing_notes, closed_at, updated_at`

func (s *Store) OpenSession(ctx context.Context, operatorID uuid.UUID, warehouseID uuid.UUID, startingCash decimal.Decimal) (*domain.Session, error) {
	var opened *domain.Session
	err := s.withTx(ctx, "open session", func(tx *sqlx.Tx) error {
		var existing uuid.UUID
		err := tx.GetContext(ctx, &existing, tx.Rebind(`
			SELECT id FROM pos_sessions WHERE operator_id = ? AND status = ?
		`), operatorID, domain.SessionStatusActive)
		if err == nil {
			return store.ErrDuplicateActiveSession
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := s.now()
		id := uuid.New()
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO pos_sessions (id, operator_id, warehouse_id, starting_cash, current_cash, status, opened_at, closing_notes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)
		`), id, operatorID, warehouseID, startingCash, startingCash, domain.SessionStatusActive, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateActiveSession
			}
			return fmt.Errorf("insert session: %w", err)
		}

		opened, err = getSession(ctx, tx, id, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// CloseSession settles the drawer: the difference between counted and
// expected cash is stored and the session can never be reopened.
func (s *Store) CloseSession(ctx context.Context, sessionID uuid.UUID, closingCash decimal.Decimal, notes string) (*domain.Session, *domain.SessionSummary, error) {
	var (
		closed  *domain.Session
		summary *domain.SessionSummary
	)
	err := s.withTx(ctx, "close session", func(tx *sqlx.Tx) error {
		sess, err := getSession(ctx, tx, sessionID, s.dialect.lock)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionStatusActive {
			return store.ErrSessionNotFound
		}

		now := s.now()
		difference := closingCash.Sub(sess.CurrentCash)
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE pos_sessions
			SET status = ?, closing_cash = ?, cash_difference = ?, closing_notes = ?, closed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), domain.SessionStatusClosed, closingCash, difference, notes, now, now, sessionID, domain.SessionStatusActive)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return store.ErrSessionNotFound
		}

		summary, err = sessionSummary(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		closed, err = getSession(ctx, tx, sessionID, "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return closed, summary, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := getSession(ctx, s.db, sessionID, "")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get session", err)
	}
	return sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, operatorID uuid.UUID) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.GetContext(ctx, &sess, s.db.Rebind(`
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE operator_id = ? AND status = ?
	`), operatorID, domain.SessionStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get active session", err)
	}
	return &sess, nil
}

func (s *Store) SessionSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	summary, err := sessionSummary(ctx, s.db, sessionID)
	if err != nil {
		return nil, storageErr("session summary", err)
	}
	return summary, nil
}

func getSession(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, lock string) (*domain.Session, error) {
	var sess domain.Session
	err := sqlx.GetContext(ctx, q, &sess, q.Rebind(`
		SELECT `+sessionColumns+`
		FROM pos_sessions
		WHERE id = ?`+lock), id)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Sums are taken in Go so both dialects agree to the cent.
func sessionSummary(ctx context.Context, q sqlx.ExtContext, sessionID uuid.UUID) (*domain.SessionSummary, error) {
	var rows []struct {
		Status   string          `db:"status"`
		Total    decimal.Decimal `db:"total_amount"`
		Discount decimal.Decimal `db:"discount_amount"`
		Tax      decimal.Decimal `db:"tax_amount"`
	}
	err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(`
		SELECT status, total_amount, discount_amount, tax_amount
		FROM sales
		WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("summarize session: %w", err)
	}

	summary := &domain.SessionSummary{
		TotalRevenue:  decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
	}
	for _, r := range rows {
		if r.Status != domain.SaleStatusCompleted {
			summary.VoidedCount++
			continue
		}
		summary.SalesCount++
		summary.TotalRevenue = summary.TotalRevenue.Add(r.Total)
		summary.TotalDiscount = summary.TotalDiscount.Add(r.Discount)
		summary.TotalTax = summary.TotalTax.Add(r.Tax)
	}
	return summary, nil
}

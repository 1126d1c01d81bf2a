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

const saleColumns = `id, session_id, customer_id, total_amount, discount_amount, tax_amount,
	amount_paid, change_amount, payment_method, status, notes, void_reason, voided_by, voided_at,
	created_at, updated_at`

// ProcessSale writes the header, its lines, the inventory deltas with their
// movements and the drawer credit as one batch, then returns the sale as
// committed.
func (s *Store) ProcessSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", store.ErrInvalidSale)
	}

	var sale *domain.Sale
	err := s.withTx(ctx, "process sale", func(tx *sqlx.Tx) error {
		sess, err := getSession(ctx, tx, draft.SessionID, s.dialect.lock)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrInvalidSessionState
		}
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionStatusActive {
			return store.ErrInvalidSessionState
		}

		now := s.now()
		saleID := uuid.New()
		change := draft.AmountPaid.Sub(draft.TotalAmount)
		if change.IsNegative() {
			change = decimal.Zero
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO sales (
				id, session_id, customer_id, total_amount, discount_amount, tax_amount,
				amount_paid, change_amount, payment_method, status, notes, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), saleID, sess.ID, draft.CustomerID, draft.TotalAmount, draft.DiscountAmount, draft.TaxAmount,
			draft.AmountPaid, change, draft.PaymentMethod, domain.SaleStatusCompleted, draft.Notes, now, now)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		if err := s.checkpoint("sale.header"); err != nil {
			return err
		}

		for i, line := range draft.Lines {
			lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity))
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO sale_items (id, sale_id, line_no, item_id, quantity, unit_price, total_price, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`), uuid.New(), saleID, i+1, line.ItemID, line.Quantity, line.UnitPrice, lineTotal, now)
			if err != nil {
				return fmt.Errorf("insert sale item %d: %w", i+1, err)
			}

			_, err = s.adjust(ctx, tx, domain.StockAdjustment{
				ItemID:       line.ItemID,
				WarehouseID:  sess.WarehouseID,
				Delta:        -line.Quantity,
				MovementType: domain.MovementSale,
				ReferenceID:  uuid.NullUUID{UUID: saleID, Valid: true},
				Notes:        fmt.Sprintf("POS sale: %d units", line.Quantity),
			}, now)
			if err != nil {
				return err
			}
			if err := s.checkpoint("sale.line"); err != nil {
				return err
			}
		}

		if _, err := s.credit(ctx, tx, sess.ID, draft.AmountPaid.Sub(change), now); err != nil {
			return err
		}
		if err := s.checkpoint("sale.cash"); err != nil {
			return err
		}

		sale, err = loadSale(ctx, tx, saleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// VoidSale reverses a completed sale. Stock goes back to the warehouse of the
// session that owns the sale, and the drawer gives back exactly what the sale
// kept. A voided sale can not be voided again.
func (s *Store) VoidSale(ctx context.Context, saleID uuid.UUID, reason string, voidedBy uuid.UUID, at time.Time) (*domain.Sale, error) {
	if at.IsZero() {
		at = s.now()
	}

	var voided *domain.Sale
	err := s.withTx(ctx, "void sale", func(tx *sqlx.Tx) error {
		var target struct {
			ID           uuid.UUID       `db:"id"`
			SessionID    uuid.UUID       `db:"session_id"`
			Status       string          `db:"status"`
			AmountPaid   decimal.Decimal `db:"amount_paid"`
			ChangeAmount decimal.Decimal `db:"change_amount"`
			WarehouseID  uuid.UUID       `db:"warehouse_id"`
		}
		err := tx.GetContext(ctx, &target, tx.Rebind(`
			SELECT s.id, s.session_id, s.status, s.amount_paid, s.change_amount, ps.warehouse_id
			FROM sales s
			JOIN pos_sessions ps ON ps.id = s.session_id
			WHERE s.id = ?`+s.dialect.lock), saleID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSaleNotFoundOrVoided
		}
		if err != nil {
			return err
		}
		if target.Status != domain.SaleStatusCompleted {
			return store.ErrSaleNotFoundOrVoided
		}

		items, err := loadSaleItems(ctx, tx, saleID)
		if err != nil {
			return err
		}

		for _, item := range items {
			_, err := s.adjust(ctx, tx, domain.StockAdjustment{
				ItemID:       item.ItemID,
				WarehouseID:  target.WarehouseID,
				Delta:        item.Quantity,
				MovementType: domain.MovementVoid,
				ReferenceID:  uuid.NullUUID{UUID: saleID, Valid: true},
				Notes:        "Sale void: " + reason,
			}, at)
			if err != nil {
				return err
			}
		}
		if err := s.checkpoint("void.items"); err != nil {
			return err
		}

		if _, err := s.debit(ctx, tx, target.SessionID, target.AmountPaid.Sub(target.ChangeAmount), at); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sales
			SET status = ?, void_reason = ?, voided_by = ?, voided_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), domain.SaleStatusVoided, reason, voidedBy, at, at, saleID, domain.SaleStatusCompleted)
		if err != nil {
			return fmt.Errorf("mark sale voided: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n != 1 {
			return store.ErrSaleNotFoundOrVoided
		}

		voided, err = loadSale(ctx, tx, saleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}

func (s *Store) GetSale(ctx context.Context, saleID uuid.UUID) (*domain.Sale, error) {
	sale, err := loadSale(ctx, s.db, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get sale", err)
	}
	return sale, nil
}

func loadSale(ctx context.Context, q sqlx.ExtContext, saleID uuid.UUID) (*domain.Sale, error) {
	var sale domain.Sale
	err := sqlx.GetContext(ctx, q, &sale, q.Rebind(`
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = ?
	`), saleID)
	if err != nil {
		return nil, err
	}
	items, err := loadSaleItems(ctx, q, saleID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q sqlx.ExtContext, saleID uuid.UUID) ([]domain.SaleItem, error) {
	items := make([]domain.SaleItem, 0, 8)
	err := sqlx.SelectContext(ctx, q, &items, q.Rebind(`
		SELECT id, sale_id, line_no, item_id, quantity, unit_price, total_price, created_at
		FROM sale_items
		WHERE sale_id = ?
		ORDER BY line_no
	`), saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	return items, nil
}

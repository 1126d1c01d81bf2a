package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

func newTestStore(t *testing.T, allowNegative bool) *Store {
	t.Helper()

	s, err := New(context.Background(), Options{
		Driver:             DriverSQLite,
		DSN:                SQLiteDSN(filepath.Join(t.TempDir(), "ledger.db")),
		AllowNegativeStock: allowNegative,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func money(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("parse %q: %v", v, err)
	}
	return d
}

func openSession(t *testing.T, s *Store, warehouseID uuid.UUID, startingCash string) *domain.Session {
	t.Helper()
	sess, err := s.OpenSession(context.Background(), uuid.New(), warehouseID, money(t, startingCash))
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess
}

func seedStock(t *testing.T, s *Store, itemID uuid.UUID, warehouseID uuid.UUID, qty int64) {
	t.Helper()
	_, err := s.AdjustInventory(context.Background(), domain.StockAdjustment{
		ItemID:       itemID,
		WarehouseID:  warehouseID,
		Delta:        qty,
		MovementType: domain.MovementRestock,
		Notes:        "seed",
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func stockOf(t *testing.T, s *Store, itemID uuid.UUID, warehouseID uuid.UUID) int64 {
	t.Helper()
	level, err := s.GetInventoryLevel(context.Background(), itemID, warehouseID)
	if err != nil {
		t.Fatalf("inventory level: %v", err)
	}
	return level.CurrentStock
}

func cashOf(t *testing.T, s *Store, sessionID uuid.UUID) decimal.Decimal {
	t.Helper()
	sess, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return sess.CurrentCash
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.db.Get(&n, s.db.Rebind(query), args...); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func singleLineDraft(t *testing.T, sessionID uuid.UUID, itemID uuid.UUID, qty int64, price string, total string, paid string) domain.SaleDraft {
	t.Helper()
	return domain.SaleDraft{
		SessionID:      sessionID,
		Lines:          []domain.SaleLine{{ItemID: itemID, Quantity: qty, UnitPrice: money(t, price)}},
		PaymentMethod:  "cash",
		TotalAmount:    money(t, total),
		AmountPaid:     money(t, paid),
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
	}
}

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
)

// Ledger is the durable home of sessions, sales, inventory and stock movements.
// Every mutating method is one atomic batch: it either applies all of its
// writes or none of them.
type Ledger interface {
	OpenSession(ctx context.Context, operatorID uuid.UUID, warehouseID uuid.UUID, startingCash decimal.Decimal) (*domain.Session, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID, closingCash decimal.Decimal, notes string) (*domain.Session, *domain.SessionSummary, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	GetActiveSession(ctx context.Context, operatorID uuid.UUID) (*domain.Session, error)
	SessionSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error)

	ProcessSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)
	VoidSale(ctx context.Context, saleID uuid.UUID, reason string, voidedBy uuid.UUID, at time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID uuid.UUID) (*domain.Sale, error)

	AdjustInventory(ctx context.Context, adj domain.StockAdjustment) (*domain.InventoryLevel, error)
	GetInventoryLevel(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID) (*domain.InventoryLevel, error)
	ListMovements(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID, limit int) ([]domain.StockMovement, error)

	OperatorStore
}

type OperatorStore interface {
	CreateOperator(ctx context.Context, op domain.Operator) error
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
	ListOperators(ctx context.Context) ([]domain.Operator, error)
}

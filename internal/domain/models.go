package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Session struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	OperatorID     uuid.UUID           `db:"operator_id" json:"operator_id"`
	WarehouseID    uuid.UUID           `db:"warehouse_id" json:"warehouse_id"`
	StartingCash   decimal.Decimal     `db:"starting_cash" json:"starting_cash"`
	CurrentCash    decimal.Decimal     `db:"current_cash" json:"current_cash"`
	Status         string              `db:"status" json:"status"`
	OpenedAt       time.Time           `db:"opened_at" json:"opened_at"`
	ClosingCash    decimal.NullDecimal `db:"closing_cash" json:"closing_cash"`
	CashDifference decimal.NullDecimal `db:"cash_difference" json:"cash_difference"`
	ClosingNotes   string              `db:"closing_notes" json:"closing_notes,omitempty"`
	ClosedAt       *time.Time          `db:"closed_at" json:"closed_at,omitempty"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// SessionSummary aggregates the sales recorded against one session.
type SessionSummary struct {
	SalesCount    int             `json:"sales_count"`
	VoidedCount   int             `json:"voided_count"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
}

type SessionOpenRequest struct {
	OperatorID   *uuid.UUID      `json:"operator_id,omitempty"`
	WarehouseID  uuid.UUID       `json:"warehouse_id"`
	StartingCash decimal.Decimal `json:"starting_cash"`
}

type SessionCloseRequest struct {
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Notes       string          `json:"notes"`
}

// SessionReport pairs a session with the summary of its sales.
type SessionReport struct {
	Session Session        `json:"session"`
	Summary SessionSummary `json:"summary"`
}

type Sale struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	SessionID      uuid.UUID       `db:"session_id" json:"session_id"`
	CustomerID     uuid.NullUUID   `db:"customer_id" json:"customer_id"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	AmountPaid     decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	ChangeAmount   decimal.Decimal `db:"change_amount" json:"change_amount"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	Status         string          `db:"status" json:"status"`
	Notes          string          `db:"notes" json:"notes,omitempty"`
	VoidReason     *string         `db:"void_reason" json:"void_reason,omitempty"`
	VoidedBy       uuid.NullUUID   `db:"voided_by" json:"voided_by"`
	VoidedAt       *time.Time      `db:"voided_at" json:"voided_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Items          []SaleItem      `db:"-" json:"items"`
}

type SaleItem struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	SaleID     uuid.UUID       `db:"sale_id" json:"sale_id"`
	LineNo     int             `db:"line_no" json:"line_no"`
	ItemID     uuid.UUID       `db:"item_id" json:"item_id"`
	Quantity   int64           `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type SaleLine struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// SaleDraft is a validated sale ready to be written in one batch.
type SaleDraft struct {
	SessionID      uuid.UUID
	CustomerID     uuid.NullUUID
	Lines          []SaleLine
	PaymentMethod  string
	TotalAmount    decimal.Decimal
	AmountPaid     decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Notes          string
}

type SaleRequest struct {
	SessionID      uuid.UUID        `json:"session_id"`
	CustomerID     *uuid.UUID       `json:"customer_id,omitempty"`
	Items          []SaleLine       `json:"items"`
	PaymentMethod  string           `json:"payment_method"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	TaxAmount      *decimal.Decimal `json:"tax_amount,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

type SaleResponse struct {
	Sale         Sale            `json:"sale"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
}

type VoidSaleRequest struct {
	SaleID     uuid.UUID `json:"-"`
	Reason     string    `json:"reason"`
	ManagerPIN string    `json:"manager_pin"`
}

type VoidSaleResponse struct {
	SaleID   uuid.UUID `json:"sale_id"`
	Status   string    `json:"status"`
	VoidedAt string    `json:"voided_at"`
}

type InventoryLevel struct {
	ItemID       uuid.UUID `db:"item_id" json:"item_id"`
	WarehouseID  uuid.UUID `db:"warehouse_id" json:"warehouse_id"`
	CurrentStock int64     `db:"current_stock" json:"current_stock"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type StockMovement struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	ItemID       uuid.UUID     `db:"item_id" json:"item_id"`
	WarehouseID  uuid.UUID     `db:"warehouse_id" json:"warehouse_id"`
	MovementType string        `db:"movement_type" json:"movement_type"`
	Quantity     int64         `db:"quantity" json:"quantity"`
	ReferenceID  uuid.NullUUID `db:"reference_id" json:"reference_id"`
	Notes        string        `db:"notes" json:"notes"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// StockAdjustment is a single signed change applied by the inventory adjuster.
type StockAdjustment struct {
	ItemID       uuid.UUID
	WarehouseID  uuid.UUID
	Delta        int64
	MovementType string
	ReferenceID  uuid.NullUUID
	Notes        string
}

type RestockRequest struct {
	ItemID       uuid.UUID `json:"item_id"`
	WarehouseID  uuid.UUID `json:"warehouse_id"`
	Quantity     int64     `json:"quantity"`
	MovementType string    `json:"movement_type,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

type MovementListResponse struct {
	Movements []StockMovement `json:"movements"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	OperatorID  uuid.UUID `json:"operator_id"`
	Role        string    `json:"role"`
	ExpiresAt   string    `json:"expires_at"`
}

type Actor struct {
	OperatorID uuid.UUID
	Username   string
	Role       string
}

// Operator is the persistence model for someone who can log in and run a drawer.
type Operator struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	MovementSale       = "sale"
	MovementVoid       = "void"
	MovementRestock    = "restock"
	MovementAdjustment = "adjustment"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

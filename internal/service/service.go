package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/store"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Ledger
	metrics      *metrics.Metrics
	batchTimeout time.Duration
}

// New wires the ledger operations. A nil metrics value disables
// instrumentation; a zero batchTimeout leaves the caller's deadline alone.
func New(repo store.Ledger, m *metrics.Metrics, batchTimeout time.Duration) *Service {
	return &Service{
		repo:         repo,
		metrics:      m,
		batchTimeout: batchTimeout,
	}
}

func (s *Service) OpenSession(ctx context.Context, req domain.SessionOpenRequest) (domain.Session, error) {
	operatorID, err := resolveOperator(ctx, req.OperatorID)
	if err != nil {
		return domain.Session{}, err
	}
	if req.WarehouseID == uuid.Nil {
		return domain.Session{}, fmt.Errorf("%w: warehouse_id is required", store.ErrInvalidInput)
	}
	if req.StartingCash.IsNegative() {
		return domain.Session{}, fmt.Errorf("%w: starting_cash must not be negative", store.ErrInvalidInput)
	}
	if exceedsMoney(req.StartingCash) {
		return domain.Session{}, fmt.Errorf("%w: starting_cash is too large", store.ErrInvalidInput)
	}

	ctx, cancel := s.batchContext(ctx)
	defer cancel()

	startedAt := time.Now()
	sess, err := s.repo.OpenSession(ctx, operatorID, req.WarehouseID, roundMoney(req.StartingCash))
	s.metrics.ObserveBatch("open_session", startedAt, err)
	if err != nil {
		return domain.Session{}, s.report("open session", err)
	}

	s.logAudit(ctx, "session_open", "session", sess.ID, fmt.Sprintf("warehouse=%s,starting_cash=%s", sess.WarehouseID, sess.StartingCash.StringFixed(2)))
	return *sess, nil
}

func (s *Service) CloseSession(ctx context.Context, sessionID uuid.UUID, req domain.SessionCloseRequest) (domain.SessionReport, error) {
	if sessionID == uuid.Nil {
		return domain.SessionReport{}, fmt.Errorf("%w: session id is required", store.ErrInvalidInput)
	}
	if req.ClosingCash.IsNegative() {
		return domain.SessionReport{}, fmt.Errorf("%w: closing_cash must not be negative", store.ErrInvalidInput)
	}
	if exceedsMoney(req.ClosingCash) {
		return domain.SessionReport{}, fmt.Errorf("%w: closing_cash is too large", store.ErrInvalidInput)
	}
	if err := s.checkSessionOwner(ctx, sessionID); err != nil {
		return domain.SessionReport{}, err
	}

	ctx, cancel := s.batchContext(ctx)
	defer cancel()

	startedAt := time.Now()
	sess, summary, err := s.repo.CloseSession(ctx, sessionID, roundMoney(req.ClosingCash), strings.TrimSpace(req.Notes))
	s.metrics.ObserveBatch("close_session", startedAt, err)
	if err != nil {
		return domain.SessionReport{}, s.report("close session", err)
	}

	difference := decimal.Zero
	if sess.CashDifference.Valid {
		difference = sess.CashDifference.Decimal
	}
	if !difference.IsZero() {
		log.Printf("[service] WARN: session %s closed with cash difference %s", sess.ID, difference.StringFixed(2))
	}
	s.logAudit(ctx, "session_close", "session", sess.ID, fmt.Sprintf("closing_cash=%s,difference=%s,sales=%d", req.ClosingCash.StringFixed(2), difference.StringFixed(2), summary.SalesCount))

	return domain.SessionReport{Session: *sess, Summary: *summary}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.SessionReport, error) {
	if sessionID == uuid.Nil {
		return domain.SessionReport{}, fmt.Errorf("%w: session id is required", store.ErrInvalidInput)
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionReport{}, err
	}
	summary, err := s.repo.SessionSummary(ctx, sessionID)
	if err != nil {
		return domain.SessionReport{}, err
	}

	return domain.SessionReport{Session: *sess, Summary: *summary}, nil
}

// GetActiveSession looks up the open session of operatorID, or of the acting
// operator when operatorID is nil.
func (s *Service) GetActiveSession(ctx context.Context, operatorID *uuid.UUID) (domain.Session, error) {
	resolved, err := resolveOperator(ctx, operatorID)
	if err != nil {
		return domain.Session{}, err
	}

	sess, err := s.repo.GetActiveSession(ctx, resolved)
	if err != nil {
		return domain.Session{}, err
	}
	return *sess, nil
}

func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	draft, err := normalizeSale(req)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := s.checkSessionOwner(ctx, draft.SessionID); err != nil {
		return domain.SaleResponse{}, err
	}

	var lineTotal decimal.Decimal
	var units int64
	for _, line := range draft.Lines {
		lineTotal = lineTotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)))
		units += line.Quantity
	}
	expected := lineTotal.Sub(draft.DiscountAmount).Add(draft.TaxAmount)
	if !expected.Equal(draft.TotalAmount) {
		log.Printf("[service] WARN: sale total %s does not reconcile with lines %s (discount %s, tax %s) session=%s",
			draft.TotalAmount.StringFixed(2), lineTotal.StringFixed(2), draft.DiscountAmount.StringFixed(2), draft.TaxAmount.StringFixed(2), draft.SessionID)
	}

	ctx, cancel := s.batchContext(ctx)
	defer cancel()

	startedAt := time.Now()
	sale, err := s.repo.ProcessSale(ctx, draft)
	s.metrics.ObserveBatch("process_sale", startedAt, err)
	if err != nil {
		return domain.SaleResponse{}, s.report("process sale", err)
	}
	s.metrics.AddUnitsSold(units)

	s.logAudit(ctx, "sale_process", "sale", sale.ID, fmt.Sprintf("session=%s,total=%s,paid=%s,change=%s,method=%s,lines=%d",
		sale.SessionID, sale.TotalAmount.StringFixed(2), sale.AmountPaid.StringFixed(2), sale.ChangeAmount.StringFixed(2), sale.PaymentMethod, len(sale.Items)))

	return domain.SaleResponse{Sale: *sale, ChangeAmount: sale.ChangeAmount}, nil
}

func (s *Service) VoidSale(ctx context.Context, req domain.VoidSaleRequest) (domain.VoidSaleResponse, error) {
	if req.SaleID == uuid.Nil {
		return domain.VoidSaleResponse{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidInput)
	}
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.OperatorID == uuid.Nil {
		return domain.VoidSaleResponse{}, fmt.Errorf("%w: acting operator is required", store.ErrInvalidInput)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	ctx, cancel := s.batchContext(ctx)
	defer cancel()

	voidedAt := time.Now().UTC()
	startedAt := time.Now()
	sale, err := s.repo.VoidSale(ctx, req.SaleID, req.Reason, actor.OperatorID, voidedAt)
	s.metrics.ObserveBatch("void_sale", startedAt, err)
	if err != nil {
		return domain.VoidSaleResponse{}, s.report("void sale", err)
	}

	s.logAudit(ctx, "sale_void", "sale", sale.ID, req.Reason)

	return domain.VoidSaleResponse{
		SaleID:   sale.ID,
		Status:   sale.Status,
		VoidedAt: voidedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID uuid.UUID) (domain.Sale, error) {
	if saleID == uuid.Nil {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", store.ErrInvalidInput)
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// Restock applies a manual stock change. Restocks must add stock; adjustments
// may go either way.
func (s *Service) Restock(ctx context.Context, req domain.RestockRequest) (domain.InventoryLevel, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.InventoryLevel{}, ErrForbidden
	}
	if req.ItemID == uuid.Nil || req.WarehouseID == uuid.Nil {
		return domain.InventoryLevel{}, fmt.Errorf("%w: item_id and warehouse_id are required", store.ErrInvalidInput)
	}

	req.MovementType = strings.ToLower(strings.TrimSpace(req.MovementType))
	if req.MovementType == "" {
		req.MovementType = domain.MovementRestock
	}
	switch req.MovementType {
	case domain.MovementRestock:
		if req.Quantity <= 0 {
			return domain.InventoryLevel{}, fmt.Errorf("%w: restock quantity must be positive", store.ErrInvalidInput)
		}
	case domain.MovementAdjustment:
		if req.Quantity == 0 {
			return domain.InventoryLevel{}, fmt.Errorf("%w: adjustment quantity must not be zero", store.ErrInvalidInput)
		}
	default:
		return domain.InventoryLevel{}, fmt.Errorf("%w: unsupported movement type %q", store.ErrInvalidInput, req.MovementType)
	}

	ctx, cancel := s.batchContext(ctx)
	defer cancel()

	startedAt := time.Now()
	level, err := s.repo.AdjustInventory(ctx, domain.StockAdjustment{
		ItemID:       req.ItemID,
		WarehouseID:  req.WarehouseID,
		Delta:        req.Quantity,
		MovementType: req.MovementType,
		Notes:        strings.TrimSpace(req.Notes),
	})
	s.metrics.ObserveBatch("adjust_inventory", startedAt, err)
	if err != nil {
		return domain.InventoryLevel{}, s.report("adjust inventory", err)
	}

	s.logAudit(ctx, "inventory_"+req.MovementType, "inventory", req.ItemID, fmt.Sprintf("warehouse=%s,qty=%d,stock=%d", req.WarehouseID, req.Quantity, level.CurrentStock))
	return *level, nil
}

func (s *Service) InventoryLevel(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID) (domain.InventoryLevel, error) {
	if itemID == uuid.Nil || warehouseID == uuid.Nil {
		return domain.InventoryLevel{}, fmt.Errorf("%w: item and warehouse are required", store.ErrInvalidInput)
	}
	level, err := s.repo.GetInventoryLevel(ctx, itemID, warehouseID)
	if err != nil {
		return domain.InventoryLevel{}, err
	}
	return *level, nil
}

func (s *Service) ListMovements(ctx context.Context, itemID uuid.UUID, warehouseID uuid.UUID, limit int) (domain.MovementListResponse, error) {
	if itemID == uuid.Nil || warehouseID == uuid.Nil {
		return domain.MovementListResponse{}, fmt.Errorf("%w: item and warehouse are required", store.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 50
	}
	movements, err := s.repo.ListMovements(ctx, itemID, warehouseID, limit)
	if err != nil {
		return domain.MovementListResponse{}, err
	}
	if movements == nil {
		movements = []domain.StockMovement{}
	}
	return domain.MovementListResponse{Movements: movements}, nil
}

func (s *Service) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.batchTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.batchTimeout)
}

// report logs infrastructure failures once, at the layer that knows which
// operation was running, and hands the error back unchanged.
func (s *Service) report(op string, err error) error {
	if !store.IsLedgerError(err) {
		log.Printf("[service] ERROR: %s: %v", op, err)
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID uuid.UUID, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Printf("[audit] actor=%s role=%s action=%s entity=%s/%s detail=%s", actor.Username, actor.Role, action, entityType, entityID, detail)
}

// checkSessionOwner keeps non-admin actors inside their own sessions. Unknown
// sessions pass so the ledger batch reports them with its own error kind.
func (s *Service) checkSessionOwner(ctx context.Context, sessionID uuid.UUID) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role == domain.RoleAdmin {
		return nil
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return s.report("check session owner", err)
	}
	if sess.OperatorID != actor.OperatorID {
		return fmt.Errorf("%w: session belongs to another operator", ErrForbidden)
	}
	return nil
}

// resolveOperator picks the operator a session call acts for. Only admins may
// name someone other than themselves; calls without an actor must name one.
func resolveOperator(ctx context.Context, requested *uuid.UUID) (uuid.UUID, error) {
	actor, ok := ActorFromContext(ctx)
	if requested != nil && *requested != uuid.Nil {
		if ok && actor.Role != domain.RoleAdmin && *requested != actor.OperatorID {
			return uuid.Nil, ErrForbidden
		}
		return *requested, nil
	}
	if !ok || actor.OperatorID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: operator_id is required", store.ErrInvalidInput)
	}
	return actor.OperatorID, nil
}

func normalizeSale(req domain.SaleRequest) (domain.SaleDraft, error) {
	if req.SessionID == uuid.Nil {
		return domain.SaleDraft{}, fmt.Errorf("%w: session_id is required", store.ErrInvalidSale)
	}
	if len(req.Items) == 0 {
		return domain.SaleDraft{}, fmt.Errorf("%w: at least one line is required", store.ErrInvalidSale)
	}

	lines := make([]domain.SaleLine, 0, len(req.Items))
	for i, item := range req.Items {
		if item.ItemID == uuid.Nil {
			return domain.SaleDraft{}, fmt.Errorf("%w: line %d has no item_id", store.ErrInvalidSale, i+1)
		}
		if item.Quantity <= 0 {
			return domain.SaleDraft{}, fmt.Errorf("%w: line %d quantity must be positive", store.ErrInvalidSale, i+1)
		}
		if item.UnitPrice.IsNegative() {
			return domain.SaleDraft{}, fmt.Errorf("%w: line %d unit_price must not be negative", store.ErrInvalidSale, i+1)
		}
		if exceedsMoney(item.UnitPrice) || exceedsMoney(roundMoney(item.UnitPrice).Mul(decimal.NewFromInt(item.Quantity))) {
			return domain.SaleDraft{}, fmt.Errorf("%w: line %d total is too large", store.ErrInvalidSale, i+1)
		}
		lines = append(lines, domain.SaleLine{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: roundMoney(item.UnitPrice),
		})
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = "cash"
	}
	if !isSupportedPaymentMethod(method) {
		return domain.SaleDraft{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidSale, method)
	}

	discount := decimal.Zero
	if req.DiscountAmount != nil {
		discount = *req.DiscountAmount
	}
	tax := decimal.Zero
	if req.TaxAmount != nil {
		tax = *req.TaxAmount
	}
	for name, amount := range map[string]decimal.Decimal{
		"total_amount":    req.TotalAmount,
		"amount_paid":     req.AmountPaid,
		"discount_amount": discount,
		"tax_amount":      tax,
	} {
		if amount.IsNegative() {
			return domain.SaleDraft{}, fmt.Errorf("%w: %s must not be negative", store.ErrInvalidSale, name)
		}
		if exceedsMoney(amount) {
			return domain.SaleDraft{}, fmt.Errorf("%w: %s is too large", store.ErrInvalidSale, name)
		}
	}

	draft := domain.SaleDraft{
		SessionID:      req.SessionID,
		Lines:          lines,
		PaymentMethod:  method,
		TotalAmount:    roundMoney(req.TotalAmount),
		AmountPaid:     roundMoney(req.AmountPaid),
		DiscountAmount: roundMoney(discount),
		TaxAmount:      roundMoney(tax),
		Notes:          strings.TrimSpace(req.Notes),
	}
	if req.CustomerID != nil && *req.CustomerID != uuid.Nil {
		draft.CustomerID = uuid.NullUUID{UUID: *req.CustomerID, Valid: true}
	}
	return draft, nil
}

// maxMoney is the smallest amount a NUMERIC(14,2) column cannot hold.
var maxMoney = decimal.New(1, 12)

func roundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func exceedsMoney(v decimal.Decimal) bool {
	return roundMoney(v).Abs().GreaterThanOrEqual(maxMoney)
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "ewallet", "transfer":
		return true
	default:
		return false
	}
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
)

const replayLockTTL = 30 * time.Second

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.OpenSession(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

func (a *API) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	var operatorID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("operator_id")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid operator_id"))
			return
		}
		operatorID = &parsed
	}

	sess, err := a.service.GetActiveSession(r.Context(), operatorID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	report, err := a.service.GetSession(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.SessionCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := a.service.CloseSession(r.Context(), id, req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleProcessSale records a sale. With an Idempotency-Key header the first
// successful response is kept and handed back to retries of the same key.
func (a *API) handleProcessSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	replayKey := a.replayKey(r)
	if replayKey != "" {
		if a.replayStored(w, r, replayKey) {
			return
		}

		reserved, err := a.replays.Reserve(r.Context(), replayKey, replayLockTTL)
		if err != nil {
			log.Printf("[httpapi] WARN: replay reserve failed, processing without dedup: %v", err)
		} else if !reserved {
			writeError(w, http.StatusConflict, errors.New("a request with this idempotency key is already in progress"))
			return
		} else {
			defer func() {
				if err := a.replays.Release(r.Context(), replayKey); err != nil {
					log.Printf("[httpapi] WARN: replay release failed: %v", err)
				}
			}()
			// The previous holder may have stored its response between the
			// first lookup and Reserve.
			if a.replayStored(w, r, replayKey) {
				return
			}
		}
	}

	resp, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if replayKey != "" {
		if err := a.replays.Set(r.Context(), replayKey, &cache.Replay{Status: http.StatusCreated, Body: body}, a.replayTTL); err != nil {
			log.Printf("[httpapi] WARN: replay store failed sale=%s: %v", resp.Sale.ID, err)
		}
	}
	writeRaw(w, http.StatusCreated, body)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:void:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}
	req.SaleID = id

	resp, err := a.service.VoidSale(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	level, err := a.service.Restock(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": level})
}

func (a *API) handleInventoryLevel(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathUUID(w, r, "item")
	if !ok {
		return
	}
	warehouseID, ok := pathUUID(w, r, "warehouse")
	if !ok {
		return
	}

	level, err := a.service.InventoryLevel(r.Context(), itemID, warehouseID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": level})
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathUUID(w, r, "item")
	if !ok {
		return
	}
	warehouseID, ok := pathUUID(w, r, "warehouse")
	if !ok {
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)

	resp, err := a.service.ListMovements(r.Context(), itemID, warehouseID, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := a.auth.ListOperators(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operators": ops})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	op, err := a.auth.CreateOperator(r.Context(), req)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"operator": op})
}

// replayStored writes the kept response for key, if there is one, and reports
// whether it did.
func (a *API) replayStored(w http.ResponseWriter, r *http.Request, key string) bool {
	replay, found, err := a.replays.Get(r.Context(), key)
	if err != nil {
		log.Printf("[httpapi] WARN: replay lookup failed: %v", err)
		return false
	}
	if !found {
		return false
	}
	a.metrics.IncReplay()
	w.Header().Set("Idempotent-Replayed", "true")
	writeRaw(w, replay.Status, replay.Body)
	return true
}

// replayKey scopes the client's Idempotency-Key to the acting operator.
func (a *API) replayKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || len(key) > 128 {
		return ""
	}
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		return ""
	}
	return "sale:" + actor.OperatorID.String() + ":" + key
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid "+name+" id"))
		return uuid.Nil, false
	}
	return id, true
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	if !bytes.HasSuffix(body, []byte("\n")) {
		_, _ = w.Write([]byte("\n"))
	}
}

package store

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSessionState    = errors.New("session is missing or not active")
	ErrDuplicateActiveSession = errors.New("operator already has an active session")
	ErrSaleNotFoundOrVoided   = errors.New("sale not found or already voided")
	ErrSessionNotFound        = errors.New("active session not found")
	ErrInvalidSale            = errors.New("invalid sale")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrDuplicateOperator      = errors.New("username already exists")
	ErrNotFound               = errors.New("not found")
	ErrStorageFailure         = errors.New("storage failure")
)

const (
	KindInvalidSessionState    = "invalid_session_state"
	KindDuplicateActiveSession = "duplicate_active_session"
	KindSaleNotFoundOrVoided   = "sale_not_found_or_already_voided"
	KindSessionNotFound        = "session_not_found"
	KindInvalidSale            = "invalid_sale"
	KindInvalidInput           = "invalid_input"
	KindInsufficientStock      = "insufficient_stock"
	KindDuplicateOperator      = "duplicate_operator"
	KindNotFound               = "not_found"
	KindStorageFailure         = "storage_failure"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidSessionState, KindInvalidSessionState},
	{ErrDuplicateActiveSession, KindDuplicateActiveSession},
	{ErrSaleNotFoundOrVoided, KindSaleNotFoundOrVoided},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrInvalidSale, KindInvalidSale},
	{ErrInvalidInput, KindInvalidInput},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrDuplicateOperator, KindDuplicateOperator},
	{ErrNotFound, KindNotFound},
}

// StorageError wraps a driver or transaction failure raised inside a batch.
// The batch has been rolled back by the time a caller sees it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// Kind returns the stable machine-readable kind for err. Anything that is not
// one of the ledger's own failures is reported as a storage failure.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStorageFailure
}

// IsLedgerError reports whether err carries one of the ledger's own kinds
// rather than an infrastructure failure.
func IsLedgerError(err error) bool {
	return err != nil && Kind(err) != KindStorageFailure
}

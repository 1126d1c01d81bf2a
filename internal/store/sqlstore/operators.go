package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"posledger/backend/internal/domain"
	"posledger/backend/internal/store"
)

func (s *Store) CreateOperator(ctx context.Context, op domain.Operator) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO operators (id, username, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), op.ID, op.Username, op.PasswordHash, op.Role, op.Active, op.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateOperator
		}
		return storageErr("create operator", err)
	}
	return nil
}

func (s *Store) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	var op domain.Operator
	err := s.db.GetContext(ctx, &op, s.db.Rebind(`
		SELECT id, username, password_hash, role, active, created_at
		FROM operators
		WHERE username = ?
	`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get operator", err)
	}
	return &op, nil
}

func (s *Store) ListOperators(ctx context.Context) ([]domain.Operator, error) {
	ops := make([]domain.Operator, 0, 16)
	err := s.db.SelectContext(ctx, &ops, `
		SELECT id, username, password_hash, role, active, created_at
		FROM operators
		ORDER BY username
	`)
	if err != nil {
		return nil, storageErr("list operators", err)
	}
	return ops, nil
}

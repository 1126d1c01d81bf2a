package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"posledger/backend/internal/store"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type Options struct {
	Driver             string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	AllowNegativeStock bool
}

type dialect struct {
	name      string
	lock      string
	txOptions *sql.TxOptions
	schema    []string
}

var postgresDialect = dialect{
	name:      DriverPostgres,
	lock:      " FOR UPDATE",
	txOptions: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	schema:    postgresSchema,
}

// SQLite runs on a single connection, so batches are already serialized and
// row locks do not exist.
var sqliteDialect = dialect{
	name:   DriverSQLite,
	schema: sqliteSchema,
}

var _ store.Ledger = (*Store)(nil)

type Store struct {
	db            *sqlx.DB
	dialect       dialect
	allowNegative bool
	now           func() time.Time

	// hook is called at fixed points inside write batches; a non-nil return
	// aborts the batch. Only tests set it.
	hook func(stage string) error
}

func New(ctx context.Context, opts Options) (*Store, error) {
	var d dialect
	switch opts.Driver {
	case DriverPostgres:
		d = postgresDialect
	case DriverSQLite:
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	db, err := sqlx.Open(d.name, opts.DSN)
	if err != nil {
		return nil, err
	}

	if d.name == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxIdleConns(positiveOr(opts.MaxIdleConns, 8))
		db.SetMaxOpenConns(positiveOr(opts.MaxOpenConns, 30))
		lifetime := opts.ConnMaxLifetime
		if lifetime <= 0 {
			lifetime = 30 * time.Minute
		}
		db.SetConnMaxLifetime(lifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:            db,
		dialect:       d,
		allowNegative: opts.AllowNegativeStock,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SQLiteDSN turns a database file path into a modernc DSN with foreign keys
// enforced and a busy timeout.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Driver() string {
	return s.dialect.name
}

// withTx runs fn inside one transaction. Rollback is deferred on every path;
// failures that are not ledger errors come back as *store.StorageError.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.txOptions)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

func (s *Store) checkpoint(stage string) error {
	if s.hook == nil {
		return nil
	}
	return s.hook(stage)
}

func storageErr(op string, err error) error {
	if store.IsLedgerError(err) {
		return err
	}
	var se *store.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &store.StorageError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func positiveOr(v int, fallback int) int {
	if v < 1 {
		return fallback
	}
	return v
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aussiebroadwan/userstore/internal/users/store"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Users() store.Users { return &usersRepo{q: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapConstraint turns a unique violation on users.email into
// store.ErrDuplicateEmail and leaves every other error untouched.
func mapConstraint(err error) error {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE && strings.Contains(se.Error(), "users.email") {
		return store.ErrDuplicateEmail
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return store.ErrAlreadyExists
	}
	return err
}

func mapNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *p, Valid: true}
}

func now() time.Time { return time.Now().UTC() }

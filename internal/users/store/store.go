package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
)

var (
	ErrNotFound       = fmt.Errorf("store: %w", domain.ErrNotFound)
	ErrAlreadyExists  = errors.New("store: already exists")
	ErrDuplicateEmail = fmt.Errorf("%w: %w", ErrAlreadyExists, domain.ErrDuplicateEmail)
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. Sub-repositories are exposed as methods so a Tx-scoped Store
// hands out repos bound to the same transaction.
type Store interface {
	Users() Users

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Users persists user records. Every PasswordHash handed to it must already
// be hashed; the repositories store whatever they are given.
type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id int64) (domain.User, error)

	// GetUserByEmail matches email case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// ListUsers returns all users ordered by id.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// CreateUser inserts u and returns the id assigned by the database.
	// A taken email yields ErrDuplicateEmail.
	CreateUser(ctx context.Context, u domain.User) (int64, error)

	// UpdateUser writes the non-nil fields of c and bumps updated_at.
	UpdateUser(ctx context.Context, id int64, c domain.UserChanges) error

	// UpdatePasswordHash sets password_hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error

	DeleteUser(ctx context.Context, id int64) error
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aussiebroadwan/userstore/internal/users/store"
)

var errNestedTx = errors.New("sqlite: transaction already open")

// txStore scopes every repository to one *sql.Tx. The owning Store keeps
// the connection pool; Close, Ping and ApplyMigrations do nothing here.
type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error              { return t.tx.Commit() }
func (t *txStore) Rollback() error            { return t.tx.Rollback() }
func (t *txStore) Close() error               { return nil }
func (t *txStore) Ping(context.Context) error { return nil }
func (t *txStore) ApplyMigrations() error     { return nil }
func (t *txStore) Users() store.Users         { return &usersRepo{q: t.tx} }

func (t *txStore) Tx(context.Context) (store.Tx, error) {
	return nil, errNestedTx
}

// WithTx joins the open transaction; the outer caller commits.
func (t *txStore) WithTx(_ context.Context, fn func(tx store.Tx) error) error {
	return fn(t)
}

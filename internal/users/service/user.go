package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/userstore/internal/users/credential"
	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/internal/users/store"
	"github.com/aussiebroadwan/userstore/pkg/slogx"
)

var ErrNothingToUpdate = errors.New("update carries no fields")

// UserService is the write path for user records. Every create and update
// runs through the credential manager before anything touches the store.
type UserService struct {
	Store       store.Store
	Credentials *credential.Manager
}

// Register validates and hashes in, then inserts it. The email unique
// constraint is left to the store, so a lost race surfaces as
// store.ErrDuplicateEmail instead of a second row.
func (s *UserService) Register(ctx context.Context, in domain.UserFields) (domain.User, error) {
	log := slogx.FromContext(ctx)

	prepared, err := s.Credentials.PrepareForInsert(ctx, in)
	if err != nil {
		log.Info("register: rejected", "error", err)
		return domain.User{}, err
	}

	var created domain.User
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		id, err := tx.Users().CreateUser(ctx, prepared)
		if err != nil {
			return err
		}
		created, err = tx.Users().GetUserByID(ctx, id)
		return err
	})
	if err != nil {
		log.Warn("register: write failed", "error", err)
		return domain.User{}, fmt.Errorf("register: %w", err)
	}

	log.Info("user registered", "user_id", created.ID)
	return created, nil
}

// Update applies a partial update. The password is re-hashed only when the
// update supplies one.
func (s *UserService) Update(ctx context.Context, id int64, upd domain.UserUpdate) (domain.User, error) {
	log := slogx.FromContext(ctx)

	if upd.IsEmpty() {
		return domain.User{}, ErrNothingToUpdate
	}

	changes, err := s.Credentials.PrepareForUpdate(ctx, upd)
	if err != nil {
		log.Info("update: rejected", "user_id", id, "error", err)
		return domain.User{}, err
	}

	var updated domain.User
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdateUser(ctx, id, changes); err != nil {
			return err
		}
		updated, err = tx.Users().GetUserByID(ctx, id)
		return err
	})
	if err != nil {
		log.Warn("update: write failed", "user_id", id, "error", err)
		return domain.User{}, fmt.Errorf("update user %d: %w", id, err)
	}

	log.Info("user updated", "user_id", id, "password_changed", changes.PasswordHash != nil)
	return updated, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.Store.Users().DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	slogx.FromContext(ctx).Info("user deleted", "user_id", id)
	return nil
}

// Get fetches a user by id.
func (s *UserService) Get(ctx context.Context, id int64) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, id)
}

// GetByEmail fetches a user by email, ignoring case.
func (s *UserService) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.Store.Users().GetUserByEmail(ctx, email)
}

func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.Store.Users().ListUsers(ctx)
}

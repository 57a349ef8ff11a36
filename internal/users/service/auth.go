package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aussiebroadwan/userstore/internal/users/credential"
	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/internal/users/store"
	"github.com/aussiebroadwan/userstore/pkg/ratelimit"
	"github.com/aussiebroadwan/userstore/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
)

// AuthService checks login attempts against stored hashes.
type AuthService struct {
	Store       store.Store
	Credentials *credential.Manager
	Limiter     *ratelimit.Limiter // optional
}

// Authenticate returns the user whose email and password match. Unknown
// emails and wrong passwords are indistinguishable to the caller, both in
// the error returned and in the time taken.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	log := slogx.FromContext(ctx)
	key := strings.ToLower(strings.TrimSpace(email))

	if s.Limiter != nil {
		if ok, retryAfter := s.Limiter.Allow(key); !ok {
			log.Warn("authenticate: rate limited", "retry_after", retryAfter)
			return domain.User{}, ErrTooManyAttempts
		}
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
		_ = s.Credentials.VerifyCredential(ctx, password, s.Credentials.DecoyHash(ctx))
		log.Info("authenticate: unknown email")
		return domain.User{}, ErrInvalidCredentials
	}

	if !s.Credentials.VerifyCredential(ctx, password, user.PasswordHash) {
		log.Info("authenticate: password mismatch", "user_id", user.ID)
		return domain.User{}, ErrInvalidCredentials
	}

	if s.Limiter != nil {
		s.Limiter.Reset(key)
	}

	if s.Credentials.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, &user, password)
	}

	return user, nil
}

// upgradeHash re-hashes a verified password with the current algorithm and
// work factor. Failure leaves the old, still valid hash in place.
func (s *AuthService) upgradeHash(ctx context.Context, user *domain.User, password string) {
	log := slogx.FromContext(ctx)

	changes, err := s.Credentials.PrepareForUpdate(ctx, domain.UserUpdate{Password: &password})
	if err != nil {
		log.Warn("authenticate: rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, *changes.PasswordHash); err != nil {
		log.Warn("authenticate: storing rehash failed", "user_id", user.ID, "error", err)
		return
	}

	user.PasswordHash = *changes.PasswordHash
	log.Info("authenticate: password hash upgraded", "user_id", user.ID, "algorithm", s.Credentials.Algorithm())
}

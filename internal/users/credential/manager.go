// Package credential guards the password field of user records: every
// create or update passes through Manager before it may be written, so a
// raw password never reaches storage.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/semaphore"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/pkg/cryptox"
	"github.com/aussiebroadwan/userstore/pkg/slogx"
)

// DefaultMinPasswordLength is the shortest raw password accepted, in characters.
const DefaultMinPasswordLength = 4

type Config struct {
	Algorithm           cryptox.Algorithm    // bcrypt (default) or argon2id
	BcryptCost          int                  // default cryptox.DefaultBcryptCost
	Argon2              cryptox.Argon2Params // default cryptox.DefaultArgon2Params
	Pepper              string               // argon2id only
	MinPasswordLength   int                  // default DefaultMinPasswordLength
	MaxConcurrentHashes int                  // default runtime.NumCPU()
}

// Manager validates user fields and hashes passwords. The algorithm and work
// factor are fixed when the Manager is built. Hash and verify calls share a
// bounded pool of slots so a burst of registrations cannot monopolise the CPU.
type Manager struct {
	hasher    cryptox.Hasher
	verifiers map[cryptox.Algorithm]cryptox.Hasher
	validate  *validator.Validate
	slots     *semaphore.Weighted
	minLen    int

	decoyMu sync.Mutex
	decoy   string
}

func New(cfg Config) (*Manager, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = cryptox.DefaultBcryptCost
	}
	if cfg.Argon2 == (cryptox.Argon2Params{}) {
		cfg.Argon2 = cryptox.DefaultArgon2Params
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.MaxConcurrentHashes <= 0 {
		cfg.MaxConcurrentHashes = runtime.NumCPU()
	}

	bc, err := cryptox.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	a2, err := cryptox.NewArgon2idHasher(cfg.Argon2, cfg.Pepper)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		verifiers: map[cryptox.Algorithm]cryptox.Hasher{
			cryptox.AlgorithmBcrypt:   bc,
			cryptox.AlgorithmArgon2id: a2,
		},
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrentHashes)),
		minLen: cfg.MinPasswordLength,
	}

	switch cfg.Algorithm {
	case cryptox.AlgorithmBcrypt, cryptox.AlgorithmUnknown:
		m.hasher = bc
	case cryptox.AlgorithmArgon2id:
		m.hasher = a2
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}

	if m.validate, err = newValidator(m.minLen, m.hasher.MaxPasswordBytes()); err != nil {
		return nil, err
	}
	return m, nil
}

// Algorithm reports the family new hashes are produced with.
func (m *Manager) Algorithm() cryptox.Algorithm { return m.hasher.Algorithm() }

// PrepareForInsert validates a create request and returns the record to
// store, with the password replaced by its hash. Validation happens before
// any hashing; on error nothing must be written.
func (m *Manager) PrepareForInsert(ctx context.Context, in domain.UserFields) (domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if err := m.validateUsername(username); err != nil {
		return domain.User{}, err
	}
	if err := m.validateEmail(email); err != nil {
		return domain.User{}, err
	}
	if err := m.validatePassword(in.Password); err != nil {
		return domain.User{}, err
	}

	hash, err := m.hash(ctx, in.Password)
	if err != nil {
		return domain.User{}, err
	}

	return domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}, nil
}

// PrepareForUpdate applies the insert rules to every field the update
// supplies. A supplied password is always re-hashed, even if it equals the
// current one; an update without a password never hashes.
func (m *Manager) PrepareForUpdate(ctx context.Context, in domain.UserUpdate) (domain.UserChanges, error) {
	var out domain.UserChanges

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if err := m.validateUsername(username); err != nil {
			return domain.UserChanges{}, err
		}
		out.Username = &username
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if err := m.validateEmail(email); err != nil {
			return domain.UserChanges{}, err
		}
		out.Email = &email
	}
	if in.Password != nil {
		if err := m.validatePassword(*in.Password); err != nil {
			return domain.UserChanges{}, err
		}
		hash, err := m.hash(ctx, *in.Password)
		if err != nil {
			return domain.UserChanges{}, err
		}
		out.PasswordHash = &hash
	}

	return out, nil
}

// VerifyCredential reports whether raw matches storedHash. The hash family
// is taken from the stored encoding, so records hashed before an algorithm
// change keep verifying.
func (m *Manager) VerifyCredential(ctx context.Context, raw, storedHash string) bool {
	h, ok := m.verifiers[cryptox.Identify(storedHash)]
	if !ok {
		slogx.FromContext(ctx).Warn("stored password hash has unknown format")
		return false
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return false
	}
	defer m.slots.Release(1)

	err := h.Verify(raw, storedHash)
	switch {
	case err == nil:
		return true
	case errors.Is(err, cryptox.ErrMismatch):
		return false
	default:
		slogx.FromContext(ctx).Warn("stored password hash is malformed", "error", err)
		return false
	}
}

// NeedsRehash reports whether storedHash was produced with another algorithm
// or work factor than the Manager currently uses.
func (m *Manager) NeedsRehash(storedHash string) bool {
	return m.hasher.NeedsRehash(storedHash)
}

// DecoyHash returns a valid hash of a random secret. Verifying against it
// costs the same as a real check, which hides whether an account exists.
// The hash is computed on first use; a failed attempt is logged and retried
// on the next call.
func (m *Manager) DecoyHash(ctx context.Context) string {
	m.decoyMu.Lock()
	defer m.decoyMu.Unlock()

	if m.decoy != "" {
		return m.decoy
	}

	b := make([]byte, 18)
	_, _ = rand.Read(b)
	h, err := m.hasher.Hash(base64.RawStdEncoding.EncodeToString(b))
	if err != nil {
		slogx.FromContext(ctx).Error("computing decoy hash failed, unknown-email logins are not timing safe", "error", err)
		return ""
	}
	m.decoy = h
	return m.decoy
}

// hash runs the hasher in a pool slot. Cancellation is honoured only while
// waiting; once started the hash runs to completion.
func (m *Manager) hash(ctx context.Context, raw string) (string, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for hash slot: %w", err)
	}
	defer m.slots.Release(1)

	hash, err := m.hasher.Hash(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrHashComputation, err)
	}
	return hash, nil
}

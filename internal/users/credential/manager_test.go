package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/pkg/cryptox"
)

type countingHasher struct {
	cryptox.Hasher
	calls atomic.Int32
}

func (h *countingHasher) Hash(password string) (string, error) {
	h.calls.Add(1)
	return h.Hasher.Hash(password)
}

type failingHasher struct{ cryptox.Hasher }

func (failingHasher) Hash(string) (string, error) { return "", errors.New("out of memory") }

func newTestManager(t *testing.T) (*Manager, *countingHasher) {
	t.Helper()

	m, err := New(Config{BcryptCost: bcrypt.MinCost, MaxConcurrentHashes: 2})
	require.NoError(t, err)

	counter := &countingHasher{Hasher: m.hasher}
	m.hasher = counter
	return m, counter
}

func ptr(s string) *string { return &s }

func TestNew_Defaults(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, cryptox.AlgorithmBcrypt, m.Algorithm())
	require.Equal(t, DefaultMinPasswordLength, m.minLen)

	hash, err := m.hash(context.Background(), "secret")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	require.Equal(t, 10, cost)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{Algorithm: "md5"})
	require.Error(t, err)

	_, err = New(Config{BcryptCost: 99})
	require.Error(t, err)
}

func TestPrepareForInsert_HashesPassword(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	inputs := []domain.UserFields{
		{Username: "alice", Email: "alice@example.com", Password: "secret"},
		{Username: "bob", Email: "bob.smith+tag@example.co.uk", Password: "abcd"},
		{Username: "  carol  ", Email: " carol@example.org ", Password: "пароль-密码"},
	}

	for _, in := range inputs {
		t.Run(in.Email, func(t *testing.T) {
			u, err := m.PrepareForInsert(ctx, in)
			require.NoError(t, err)

			require.NotEqual(t, in.Password, u.PasswordHash)
			require.NotContains(t, u.PasswordHash, in.Password)
			require.True(t, m.VerifyCredential(ctx, in.Password, u.PasswordHash))
			require.Equal(t, strings.TrimSpace(in.Username), u.Username)
			require.Equal(t, strings.TrimSpace(in.Email), u.Email)
			require.Zero(t, u.ID)
		})
	}
}

func TestPrepareForInsert_ValidationFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		in    domain.UserFields
		field string
		want  error
	}{
		{"missing username", domain.UserFields{Email: "a@example.com", Password: "secret"}, "username", domain.ErrMissingField},
		{"blank username", domain.UserFields{Username: "   ", Email: "a@example.com", Password: "secret"}, "username", domain.ErrMissingField},
		{"missing email", domain.UserFields{Username: "a", Password: "secret"}, "email", domain.ErrMissingField},
		{"missing password", domain.UserFields{Username: "a", Email: "a@example.com"}, "password", domain.ErrMissingField},
		{"no at sign", domain.UserFields{Username: "a", Email: "not-an-email", Password: "secret"}, "email", domain.ErrInvalidEmail},
		{"no domain", domain.UserFields{Username: "a", Email: "alice@", Password: "secret"}, "email", domain.ErrInvalidEmail},
		{"spaces inside", domain.UserFields{Username: "a", Email: "al ice@example.com", Password: "secret"}, "email", domain.ErrInvalidEmail},
		{"one char password", domain.UserFields{Username: "a", Email: "a@example.com", Password: "x"}, "password", domain.ErrPasswordTooShort},
		{"three char password", domain.UserFields{Username: "a", Email: "a@example.com", Password: "abc"}, "password", domain.ErrPasswordTooShort},
		{"three rune password", domain.UserFields{Username: "a", Email: "a@example.com", Password: "密码密"}, "password", domain.ErrPasswordTooShort},
		{"password over bcrypt limit", domain.UserFields{Username: "a", Email: "a@example.com", Password: strings.Repeat("p", 73)}, "password", domain.ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, counter := newTestManager(t)

			_, err := m.PrepareForInsert(ctx, tt.in)
			require.ErrorIs(t, err, tt.want)

			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tt.field, ve.Field)

			require.Zero(t, counter.calls.Load(), "validation failures must not hash")
			if tt.in.Password != "" {
				require.NotContains(t, err.Error(), tt.in.Password)
			}
		})
	}
}

func TestPrepareForInsert_SaltsEveryHash(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	in := domain.UserFields{Username: "alice", Email: "alice@example.com", Password: "secret"}

	first, err := m.PrepareForInsert(ctx, in)
	require.NoError(t, err)
	second, err := m.PrepareForInsert(ctx, in)
	require.NoError(t, err)

	require.NotEqual(t, first.PasswordHash, second.PasswordHash)
	require.True(t, m.VerifyCredential(ctx, "secret", first.PasswordHash))
	require.True(t, m.VerifyCredential(ctx, "secret", second.PasswordHash))
}

func TestPrepareForInsert_HashFailurePropagates(t *testing.T) {
	m, _ := newTestManager(t)
	m.hasher = failingHasher{m.hasher}

	u, err := m.PrepareForInsert(context.Background(), domain.UserFields{
		Username: "alice", Email: "alice@example.com", Password: "secret",
	})
	require.ErrorIs(t, err, domain.ErrHashComputation)
	require.False(t, domain.IsValidation(err))
	require.Empty(t, u.PasswordHash)
}

func TestPrepareForInsert_CancelledBeforeSlot(t *testing.T) {
	m, err := New(Config{BcryptCost: bcrypt.MinCost, MaxConcurrentHashes: 1})
	require.NoError(t, err)

	// Occupy the only slot
	require.NoError(t, m.slots.Acquire(context.Background(), 1))
	defer m.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.PrepareForInsert(ctx, domain.UserFields{
		Username: "alice", Email: "alice@example.com", Password: "secret",
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrepareForUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("no password means no hashing", func(t *testing.T) {
		m, counter := newTestManager(t)

		ch, err := m.PrepareForUpdate(ctx, domain.UserUpdate{Username: ptr(" alice2 ")})
		require.NoError(t, err)
		require.Equal(t, "alice2", *ch.Username)
		require.Nil(t, ch.Email)
		require.Nil(t, ch.PasswordHash)
		require.Zero(t, counter.calls.Load())
	})

	t.Run("password is rehashed every time", func(t *testing.T) {
		m, counter := newTestManager(t)

		a, err := m.PrepareForUpdate(ctx, domain.UserUpdate{Password: ptr("newpass")})
		require.NoError(t, err)
		b, err := m.PrepareForUpdate(ctx, domain.UserUpdate{Password: ptr("newpass")})
		require.NoError(t, err)

		require.EqualValues(t, 2, counter.calls.Load())
		require.NotEqual(t, *a.PasswordHash, *b.PasswordHash)
		require.True(t, m.VerifyCredential(ctx, "newpass", *a.PasswordHash))
	})

	t.Run("same rules as insert", func(t *testing.T) {
		m, counter := newTestManager(t)

		_, err := m.PrepareForUpdate(ctx, domain.UserUpdate{Email: ptr("nope")})
		require.ErrorIs(t, err, domain.ErrInvalidEmail)

		_, err = m.PrepareForUpdate(ctx, domain.UserUpdate{Username: ptr("")})
		require.ErrorIs(t, err, domain.ErrMissingField)

		_, err = m.PrepareForUpdate(ctx, domain.UserUpdate{Email: ptr("ok@example.com"), Password: ptr("abc")})
		require.ErrorIs(t, err, domain.ErrPasswordTooShort)

		require.Zero(t, counter.calls.Load())
	})
}

func TestVerifyCredential(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	u, err := m.PrepareForInsert(ctx, domain.UserFields{Username: "alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	require.True(t, m.VerifyCredential(ctx, "secret", u.PasswordHash))
	require.False(t, m.VerifyCredential(ctx, "wrong", u.PasswordHash))
	require.False(t, m.VerifyCredential(ctx, "", u.PasswordHash))
	require.False(t, m.VerifyCredential(ctx, "secret", "secret"), "plaintext is never a valid stored value")
	require.False(t, m.VerifyCredential(ctx, "secret", ""))
	require.False(t, m.VerifyCredential(ctx, "secret", "$argon2id$v=19$garbage"))
}

func TestVerifyCredential_CorruptArgon2Params(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{
		Algorithm: cryptox.AlgorithmArgon2id,
		Argon2:    cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1},
	})
	require.NoError(t, err)

	for _, stored := range []string{
		"$argon2id$v=19$m=19456,t=0,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNo",
		"$argon2id$v=19$m=19456,t=2,p=0$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNo",
		"$argon2id$v=19$m=4294967295,t=2,p=1$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNo",
	} {
		require.NotPanics(t, func() {
			require.False(t, m.VerifyCredential(ctx, "secret", stored))
		}, stored)
		require.True(t, m.NeedsRehash(stored))
	}
}

func TestVerifyCredential_AcrossAlgorithms(t *testing.T) {
	ctx := context.Background()
	params := cryptox.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

	oldM, err := New(Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	newM, err := New(Config{Algorithm: cryptox.AlgorithmArgon2id, Argon2: params, Pepper: "pep", BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	legacy, err := oldM.PrepareForInsert(ctx, domain.UserFields{Username: "a", Email: "a@example.com", Password: "secret"})
	require.NoError(t, err)
	current, err := newM.PrepareForInsert(ctx, domain.UserFields{Username: "a", Email: "a@example.com", Password: "secret"})
	require.NoError(t, err)

	require.Equal(t, cryptox.AlgorithmArgon2id, cryptox.Identify(current.PasswordHash))
	require.True(t, newM.VerifyCredential(ctx, "secret", legacy.PasswordHash))
	require.True(t, newM.VerifyCredential(ctx, "secret", current.PasswordHash))

	require.True(t, newM.NeedsRehash(legacy.PasswordHash))
	require.False(t, newM.NeedsRehash(current.PasswordHash))
	require.False(t, oldM.NeedsRehash(legacy.PasswordHash))
}

func TestDecoyHash(t *testing.T) {
	ctx := context.Background()
	m, counter := newTestManager(t)

	d1 := m.DecoyHash(ctx)
	d2 := m.DecoyHash(ctx)
	require.NotEmpty(t, d1)
	require.Equal(t, d1, d2, "computed once")
	require.EqualValues(t, 1, counter.calls.Load())
	require.False(t, m.VerifyCredential(ctx, "anything", d1))
}

func TestDecoyHash_RetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	m, counter := newTestManager(t)

	m.hasher = failingHasher{counter}
	require.Empty(t, m.DecoyHash(ctx))

	m.hasher = counter
	decoy := m.DecoyHash(ctx)
	require.NotEmpty(t, decoy)
	require.Equal(t, cryptox.AlgorithmBcrypt, cryptox.Identify(decoy))
	require.Equal(t, decoy, m.DecoyHash(ctx))
	require.EqualValues(t, 1, counter.calls.Load())
}

func TestConcurrentPrepare(t *testing.T) {
	ctx := context.Background()
	m, counter := newTestManager(t)

	var wg sync.WaitGroup
	hashes := make([]string, 8)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := m.PrepareForInsert(ctx, domain.UserFields{Username: "u", Email: "u@example.com", Password: "secret"})
			if err == nil {
				hashes[i] = u.PasswordHash
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, len(hashes), counter.calls.Load())
	seen := map[string]bool{}
	for _, h := range hashes {
		require.NotEmpty(t, h)
		require.False(t, seen[h], "every hash carries its own salt")
		seen[h] = true
	}
}

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/userstore/internal/users/domain"
	"github.com/aussiebroadwan/userstore/internal/users/store"
	"github.com/aussiebroadwan/userstore/internal/users/store/drivers/postgres"
)

const (
	pgImage    = "postgres:16-alpine"
	pgUser     = "users"
	pgPassword = "users-test-password"
	pgDatabase = "users_test"
)

// setupPostgres starts a throwaway Postgres container and returns a migrated
// store connected to it. Skipped with -short or when Docker is unavailable.
func setupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgDatabase,
		},
		// The server restarts once after init, so wait for the second ready line
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, host, mappedPort.Port(), pgDatabase)

	s, err := postgres.NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.ApplyMigrations(), "migrations must be idempotent")
	return s
}

func ptr(s string) *string { return &s }

func TestPostgresUsers(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	var aliceID int64

	t.Run("create and get", func(t *testing.T) {
		id, err := s.Users().CreateUser(ctx, domain.User{Username: "alice", Email: "Alice@Example.com", PasswordHash: "h1"})
		require.NoError(t, err)
		require.Positive(t, id)
		aliceID = id

		u, err := s.Users().GetUserByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "alice", u.Username)
		require.Equal(t, "h1", u.PasswordHash)
		require.False(t, u.CreatedAt.IsZero())

		byEmail, err := s.Users().GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.Equal(t, id, byEmail.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := s.Users().CreateUser(ctx, domain.User{Username: "mallory", Email: "ALICE@example.com", PasswordHash: "h2"})
		require.ErrorIs(t, err, store.ErrDuplicateEmail)
		require.ErrorIs(t, err, domain.ErrDuplicateEmail)

		u, err := s.Users().GetUserByID(ctx, aliceID)
		require.NoError(t, err)
		require.Equal(t, "h1", u.PasswordHash)
	})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, s.Users().UpdateUser(ctx, aliceID, domain.UserChanges{
			Username:     ptr("alice2"),
			PasswordHash: ptr("h3"),
		}))

		u, err := s.Users().GetUserByID(ctx, aliceID)
		require.NoError(t, err)
		require.Equal(t, "alice2", u.Username)
		require.Equal(t, "Alice@Example.com", u.Email)
		require.Equal(t, "h3", u.PasswordHash)

		require.NoError(t, s.Users().UpdatePasswordHash(ctx, aliceID, "h4"))
		require.ErrorIs(t, s.Users().UpdateUser(ctx, -1, domain.UserChanges{Username: ptr("x")}), store.ErrNotFound)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.Users().CreateUser(ctx, domain.User{Username: "bob", Email: "bob@example.com", PasswordHash: "h"})
			require.NoError(t, err)
			return fmt.Errorf("abort")
		})
		require.Error(t, err)

		_, err = s.Users().GetUserByEmail(ctx, "bob@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		users, err := s.Users().ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)

		require.NoError(t, s.Users().DeleteUser(ctx, aliceID))
		require.ErrorIs(t, s.Users().DeleteUser(ctx, aliceID), store.ErrNotFound)
	})
}

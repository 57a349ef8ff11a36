package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/userstore/internal/users/credential"
	"github.com/aussiebroadwan/userstore/internal/users/service"
	"github.com/aussiebroadwan/userstore/internal/users/store"
	"github.com/aussiebroadwan/userstore/internal/users/store/drivers/postgres"
	"github.com/aussiebroadwan/userstore/internal/users/store/drivers/sqlite"
	"github.com/aussiebroadwan/userstore/pkg/cryptox"
	"github.com/aussiebroadwan/userstore/pkg/ratelimit"
	"github.com/aussiebroadwan/userstore/pkg/slogx"
)

// BuildVersion is overridden at build time via ldflags.
var BuildVersion = "v0.1.0"

// Application holds the store and services behind the users CLI.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db          store.Store
	credentials *credential.Manager

	Users *service.UserService
	Auth  *service.AuthService
}

// New builds an Application from cfg, logging to logOut (stderr when nil).
// Migrations are not applied here; see Migrate.
func New(ctx context.Context, cfg Config, logOut io.Writer) (*Application, error) {
	if logOut == nil {
		logOut = os.Stderr
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "users",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  logOut,
		}),
	}

	if err := app.initCredentials(); err != nil {
		return nil, err
	}
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	app.initServices()

	return app, nil
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger { return app.logger }

// Migrate brings the schema up to date.
func (app *Application) Migrate() error {
	if err := app.db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// Close releases the database connection.
func (app *Application) Close() error {
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initCredentials builds the credential manager. The pepper file is only
// read (or created) when argon2id is selected.
func (app *Application) initCredentials() error {
	cfg := credential.Config{
		Algorithm:           cryptox.Algorithm(app.cfg.HashAlgorithm),
		BcryptCost:          app.cfg.BcryptCost,
		MinPasswordLength:   app.cfg.MinPasswordLength,
		MaxConcurrentHashes: app.cfg.MaxConcurrentHashes,
	}

	if cfg.Algorithm == cryptox.AlgorithmArgon2id {
		pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
		if err != nil {
			return fmt.Errorf("failed to load pepper: %w", err)
		}
		cfg.Pepper = pepper
	}

	m, err := credential.New(cfg)
	if err != nil {
		return fmt.Errorf("invalid credential configuration: %w", err)
	}
	app.credentials = m
	return nil
}

// initDatabase opens the configured store.
func (app *Application) initDatabase(ctx context.Context) error {
	switch app.cfg.DatabaseDriver {
	case "", "sqlite":
		dsn := fmt.Sprintf(
			"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
			app.cfg.DatabaseFile,
		)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		app.db = db

	case "postgres":
		if app.cfg.DatabaseURL == "" {
			return errors.New("USERS_DATABASE_URL is required for the postgres driver")
		}
		if app.cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, app.cfg.ConnectTimeout)
			defer cancel()
		}

		db, err := postgres.NewStore(ctx, app.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		app.db = db

	default:
		return fmt.Errorf("unsupported database driver %q", app.cfg.DatabaseDriver)
	}

	app.logger.Debug("database opened", "driver", app.cfg.DatabaseDriver)
	return nil
}

func (app *Application) initServices() {
	app.Users = &service.UserService{
		Store:       app.db,
		Credentials: app.credentials,
	}
	app.Auth = &service.AuthService{
		Store:       app.db,
		Credentials: app.credentials,
		Limiter:     ratelimit.New(app.cfg.LoginLimit),
	}
}

package postgres

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/aussiebroadwan/userstore/internal/users/store/drivers/postgres/migrations"
)

// ApplyMigrations applies any pending migrations embedded in the binary.
func (s *Store) ApplyMigrations() error {
	driver, err := migratepgx.WithInstance(s.db, &migratepgx.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return err
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

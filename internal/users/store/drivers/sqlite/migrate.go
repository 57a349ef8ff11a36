package sqlite

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/aussiebroadwan/userstore/internal/users/store/drivers/sqlite/migrations"
)

// ApplyMigrations applies any pending migrations embedded in the binary.
func (s *Store) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

package auditlog

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// ErrNoChange is returned when the schema is already at the requested version.
var ErrNoChange = migrate.ErrNoChange

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	// Up applies every pending migration.
	Up Direction = "up"
	// Down reverts every applied migration.
	Down Direction = "down"
)

// Migrate moves the store's schema in direction using the embedded migrations
// for its dialect. The store's database handle stays open.
func (s *SQLStore) Migrate(direction Direction) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	m, err := s.migrator()
	if err != nil {
		return err
	}

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// SchemaVersion returns the applied migration version and whether it is dirty.
func (s *SQLStore) SchemaVersion() (uint, bool, error) {
	m, err := s.migrator()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *SQLStore) migrator() (*migrate.Migrate, error) {
	dir := "migrations/sqlite"
	if s.dialect == DialectPostgres {
		dir = "migrations/postgres"
	}
	sourceDriver, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, s.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(s.dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

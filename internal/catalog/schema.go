package catalog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

// schemaStatements returns the statements of every up migration in version
// order.
func schemaStatements() ([]string, error) {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []string
	for _, name := range files {
		raw, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(string(raw), ";\n") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				out = append(out, strings.TrimSuffix(stmt, ";"))
			}
		}
	}
	return out, nil
}

// EnsureSchema creates the catalog tables and the shared data relation over
// the catalog's own connection. Every statement is idempotent, so it is safe
// on a database that Migrate already brought up to date.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	statements, err := schemaStatements()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Migrate applies the embedded migrations with version tracking.
// databaseURL must be a postgres:// URL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

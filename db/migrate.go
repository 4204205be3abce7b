package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/hydrotrace/errors"
)

//go:embed sqlite/migrations/ledger/*.sql sqlite/migrations/gdb/*.sql
var migrations embed.FS

// Schema selects a migration set.
type Schema string

const (
	// SchemaLedger is the run ledger: runs, jobs and failure records.
	SchemaLedger Schema = "ledger"
	// SchemaGDB is the catalog every feature store carries.
	SchemaGDB Schema = "gdb"
)

// OpenWithMigrations opens the ledger database at path and applies pending
// ledger migrations.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := OpenWithOptions(path, Options{WAL: true, MaxOpenConns: 1}, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, SchemaLedger, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate %s", path)
	}
	return db, nil
}

// Migrate runs all pending migrations of schema.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, schema Schema, logger *zap.SugaredLogger) error {
	dir := path.Join("sqlite/migrations", string(schema))
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "read migrations for schema %q", schema)
	}

	// 000_create_schema_migrations.sql runs first
	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	applied := 0
	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			// Table doesn't exist yet - this must be migration 000
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)", "schema", schema, "migration", filename)
			}
			continue
		}

		sqlBytes, err := migrations.ReadFile(path.Join(dir, filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if logger != nil {
			logger.Debugw("Applying migration", "schema", schema, "migration", filename, "version", version)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", filename)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
		applied++
	}

	if logger != nil {
		logger.Debugw("Migrations complete",
			"schema", schema,
			"applied", applied,
			"total_migrations", len(migrationFiles),
			"sqlite_version", driverVersion(),
		)
	}
	return nil
}

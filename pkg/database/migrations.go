package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// Migration is one versioned schema script
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Migrator applies pending migrations and refuses to run when an applied
// script has been edited afterwards.
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// RunMigrations applies every NNN_name.sql script of fsys not yet recorded
func (m *Migrator) RunMigrations(fsys fs.FS) error {
	if _, err := m.db.Exec(schemaMigrationsDDL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	pending, err := m.pending(migrations)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Debug("Schema up to date", zap.Int("migrations", len(migrations)))
		return nil
	}

	for _, mig := range pending {
		m.logger.Info("Applying migration",
			zap.Int("version", mig.Version),
			zap.String("name", mig.Name))

		if err := m.apply(mig); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
	}

	m.logger.Info("Database migrations applied", zap.Int("applied", len(pending)))
	return nil
}

// pending compares the scripts against schema_migrations
func (m *Migrator) pending(migrations []Migration) ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Migration
	for _, mig := range migrations {
		sum, done := applied[mig.Version]
		switch {
		case !done:
			out = append(out, mig)
		case sum != mig.Checksum:
			return nil, fmt.Errorf("migration %03d_%s was modified after it was applied", mig.Version, mig.Name)
		}
	}
	return out, nil
}

func (m *Migrator) apply(mig Migration) error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
			mig.Version, mig.Name, mig.Checksum,
		)
		return err
	})
}

// LoadMigrations collects the .sql files of fsys ordered by version
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	var migrations []Migration
	owners := make(map[int]string)

	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Ext(p) != ".sql" {
			return err
		}

		mig, err := parseMigrationName(path.Base(p))
		if err != nil {
			return err
		}
		if other, dup := owners[mig.Version]; dup {
			return fmt.Errorf("duplicate migration version %d: %s and %s", mig.Version, other, p)
		}
		owners[mig.Version] = p

		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		digest := sha256.Sum256(body)
		mig.SQL = string(body)
		mig.Checksum = hex.EncodeToString(digest[:])

		migrations = append(migrations, mig)
		return nil
	}
	if err := fs.WalkDir(fsys, ".", walk); err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationName splits "001_initial_schema.sql" into 1 and "initial_schema"
func parseMigrationName(filename string) (Migration, error) {
	stem := strings.TrimSuffix(filename, ".sql")
	digits, name, _ := strings.Cut(stem, "_")

	version, err := strconv.Atoi(digits)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("invalid migration filename format: %s", filename)
	}
	return Migration{Version: version, Name: name}, nil
}

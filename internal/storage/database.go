package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Database wraps the sqlx.DB connection.
type Database struct {
	*sqlx.DB
}

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("record already exists")
)

// NewDatabase creates a new database connection and brings the schema up to date.
// dbPath may be ":memory:" for a private in-memory database.
func NewDatabase(dbPath string) (*Database, error) {
	d, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// OpenDatabase connects without touching the schema.
func OpenDatabase(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite has a single writer; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	return &Database{DB: db}, nil
}

// Migrate applies all pending embedded migrations.
func (d *Database) Migrate() error {
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.Up(d.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationState is one embedded migration and whether it is applied.
type MigrationState struct {
	Version int64
	Source  string
	Applied bool
}

// MigrationStatus reports the applied state of every embedded migration.
func (d *Database) MigrationStatus() ([]MigrationState, error) {
	current, err := d.MigrationVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	all, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to collect migrations: %w", err)
	}
	out := make([]MigrationState, 0, len(all))
	for _, m := range all {
		out = append(out, MigrationState{Version: m.Version, Source: filepath.Base(m.Source), Applied: m.Version <= current})
	}
	return out, nil
}

// MigrationVersion returns the current schema version.
func (d *Database) MigrationVersion() (int64, error) {
	if err := prepareGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(d.DB.DB)
}

func prepareGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}

// inTx runs fn inside a transaction, committing on success.
func (d *Database) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

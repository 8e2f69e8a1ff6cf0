package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fieldsync/internal/clock"
	"github.com/roach88/fieldsync/internal/syncerr"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added drain index on mutations(entity_type, state, seq)
// 2 - Added mutations.attempted
const currentSchemaVersion = 2

// ErrNotFound is returned when a record or mutation does not exist.
var ErrNotFound = errors.New("not found")

// IDGenerator produces identifiers for new records and mutations.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Store is the durable local record store and mutation queue.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	ids   IDGenerator

	// beforeCommit runs inside write transactions right before commit.
	// Tests use it to simulate a crash between the writes and the commit.
	beforeCommit func() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for queue and record timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithIDGenerator sets the generator for record and mutation identifiers.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, syncerr.Storage("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncerr.Storage("connect to database", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps every local operation serialized without an external lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, syncerr.Storage("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, syncerr.Storage("apply schema", err)
	}

	return newStore(db, opts...), nil
}

// newStore wraps an already configured database.
func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		clock: clock.System{},
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// inTx runs fn inside a transaction and commits it. Any failure, including
// the commit itself, rolls back and is reported as a Storage error for op.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Storage(op+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		if passThrough(err) {
			return err
		}
		return syncerr.Storage(op, err)
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return syncerr.Storage(op+": before commit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncerr.Storage(op+": commit", err)
	}
	return nil
}

// passThrough reports whether err describes the caller's request rather
// than a persistence failure, so it is returned without a Storage wrapper.
func passThrough(err error) bool {
	var se *syncerr.Error
	return errors.As(err, &se) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDeleted) ||
		errors.Is(err, ErrInvalid)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index the orchestrator uses to drain one entity
// type's pending mutations in seq order.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_mutations_drain
		ON mutations(entity_type, state, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 adds mutations.attempted to databases created before it
// was part of schema.sql. New databases already have the column.
func migrateToV2(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(mutations)")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
		if name == "attempted" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	rows.Close()

	if _, err := db.Exec(`ALTER TABLE mutations ADD COLUMN attempted INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

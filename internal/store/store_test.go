package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"records", "mutations", "sync_cursors", "conflict_decisions"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := createTestStore(t)

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "2"}, // FULL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_RecordsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "records")
	expected := []string{
		"local_id", "entity_type", "server_id", "payload", "fingerprint",
		"is_synced", "updated_at", "server_updated_at", "is_deleted",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("records table missing column %q", col)
		}
	}
}

func TestSchema_MutationsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "mutations")
	expected := []string{
		"seq", "id", "entity_type", "target_local_id", "operation", "payload",
		"changed_fields", "queued_at", "retry_count", "last_error", "next_attempt_at", "attempted", "state",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("mutations table missing column %q", col)
		}
	}
}

func TestConstraint_MutationRequiresRecord(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO mutations (id, entity_type, target_local_id, operation, payload, queued_at)
		VALUES ('m-1', 'ticket', 'missing', 'create', '{}', 1)
	`)
	if err == nil {
		t.Error("expected foreign key violation for mutation without record")
	}
}

func TestConstraint_OperationCheck(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.db.Exec(`
		INSERT INTO records (local_id, entity_type, payload, fingerprint, updated_at)
		VALUES ('r-1', 'ticket', '{"title":"x"}', 'fp', 1)
	`); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO mutations (id, entity_type, target_local_id, operation, payload, queued_at)
		VALUES ('m-1', 'ticket', 'r-1', 'upsert', '{}', 1)
	`)
	if err == nil {
		t.Error("expected CHECK violation for unknown operation")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Apply schema but NOT migrations (simulates pre-migration state)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	indexes := getTableIndexes(t, s.db, "mutations")
	if !contains(indexes, "idx_mutations_drain") {
		t.Errorf("expected idx_mutations_drain after migration, got indexes: %v", indexes)
	}
}

func TestMigration_UpgradeFromV1AddsAttempted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// A v1 database: mutations without the attempted column.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE mutations (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			entity_type     TEXT NOT NULL,
			target_local_id TEXT NOT NULL,
			operation       TEXT NOT NULL,
			payload         TEXT NOT NULL,
			changed_fields  TEXT NOT NULL DEFAULT '[]',
			queued_at       INTEGER NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			state           TEXT NOT NULL DEFAULT 'pending'
		)
	`); err != nil {
		t.Fatalf("failed to create v1 mutations: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if !contains(getTableColumns(t, s.db, "mutations"), "attempted") {
		t.Error("expected mutations.attempted after migration")
	}
}

func TestMigration_V2IsIdempotent(t *testing.T) {
	s := createTestStore(t)
	if err := migrateToV2(s.db); err != nil {
		t.Fatalf("migrateToV2 on a current schema: %v", err)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

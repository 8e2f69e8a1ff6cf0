package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// querier is satisfied by *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get retrieves a record by entity type and local id.
// Returns an error wrapping ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, entityType record.EntityType, localID string) (record.Record, error) {
	rec, err := getRecord(ctx, s.db, entityType, localID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return record.Record{}, syncerr.Storage("get record", err)
	}
	return rec, err
}

// GetByServerID retrieves a record by the identifier the remote assigned.
// Returns an error wrapping ErrNotFound if no local record carries it.
func (s *Store) GetByServerID(ctx context.Context, entityType record.EntityType, serverID string) (record.Record, error) {
	rec, err := getRecordByServerID(ctx, s.db, entityType, serverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return record.Record{}, syncerr.Storage("get record by server id", err)
	}
	return rec, err
}

// ListPendingUnsynced returns records not yet confirmed by the remote,
// oldest local write first. An empty entityType lists every type.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListPendingUnsynced(ctx context.Context, entityType record.EntityType) ([]record.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE is_synced = 0`
	args := []any{}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(entityType))
	}
	query += ` ORDER BY updated_at ASC, local_id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Storage("list unsynced", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, syncerr.Storage("list unsynced", err)
	}
	return records, nil
}

// ListRecords returns every record of a type, tombstones included, ordered
// by local id.
func (s *Store) ListRecords(ctx context.Context, entityType record.EntityType) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE entity_type = ?
		ORDER BY local_id COLLATE BINARY ASC
	`, string(entityType))
	if err != nil {
		return nil, syncerr.Storage("list records", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, syncerr.Storage("list records", err)
	}
	return records, nil
}

// CountUnsynced returns the number of unsynced records per entity type.
// Types with no unsynced records are omitted.
func (s *Store) CountUnsynced(ctx context.Context) (map[record.EntityType]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, COUNT(*) FROM records
		WHERE is_synced = 0
		GROUP BY entity_type
	`)
	if err != nil {
		return nil, syncerr.Storage("count unsynced", err)
	}
	defer rows.Close()

	counts := map[record.EntityType]int{}
	for rows.Next() {
		var (
			et string
			n  int
		)
		if err := rows.Scan(&et, &n); err != nil {
			return nil, syncerr.Storage("count unsynced", err)
		}
		counts[record.EntityType(et)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Storage("count unsynced", err)
	}
	return counts, nil
}

func getRecord(ctx context.Context, q querier, entityType record.EntityType, localID string) (record.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE entity_type = ? AND local_id = ?
	`, string(entityType), localID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("record %s/%s: %w", entityType, localID, ErrNotFound)
	}
	return rec, err
}

func getRecordByServerID(ctx context.Context, q querier, entityType record.EntityType, serverID string) (record.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE entity_type = ? AND server_id = ?
	`, string(entityType), serverID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("record %s with server id %s: %w", entityType, serverID, ErrNotFound)
	}
	return rec, err
}

func countMutationsFor(ctx context.Context, q querier, localID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutations WHERE target_local_id = ?`, localID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mutations for %s: %w", localID, err)
	}
	return n, nil
}

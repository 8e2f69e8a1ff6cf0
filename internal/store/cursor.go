package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// Cursor returns the pull watermark of an entity type. A type that was
// never pulled has a zero LastPulledAt.
func (s *Store) Cursor(ctx context.Context, entityType record.EntityType) (record.Cursor, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_pulled_at FROM sync_cursors WHERE entity_type = ?`,
		string(entityType)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Cursor{EntityType: entityType}, nil
	}
	if err != nil {
		return record.Cursor{}, syncerr.Storage("read cursor", err)
	}
	return record.Cursor{EntityType: entityType, LastPulledAt: record.FromMillis(ms)}, nil
}

// AdvanceCursor moves the pull watermark of an entity type forward to t.
// The watermark never moves backwards.
func (s *Store) AdvanceCursor(ctx context.Context, entityType record.EntityType, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity_type, last_pulled_at) VALUES (?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			last_pulled_at = MAX(sync_cursors.last_pulled_at, excluded.last_pulled_at)
	`, string(entityType), record.Millis(t))
	if err != nil {
		return syncerr.Storage("advance cursor", err)
	}
	return nil
}

// ClearCursors forgets every pull watermark so the next pull starts over.
func (s *Store) ClearCursors(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_cursors`); err != nil {
		return syncerr.Storage("clear cursors", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// heldStrategy marks a conflict held for a user decision. It matches the
// ask_user strategy name.
const heldStrategy = "ask_user"

// HeldConflict is a record whose conflict waits for a user decision.
type HeldConflict struct {
	EntityType record.EntityType
	LocalID    string
	HeldAt     time.Time
}

// SetDecision records how the user wants a held conflict on a record
// resolved. The orchestrator applies it on the next cycle. While a decision
// row exists the record's mutations are not pushed.
func (s *Store) SetDecision(ctx context.Context, entityType record.EntityType, localID, strategy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflict_decisions (entity_type, local_id, strategy, decided_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, local_id) DO UPDATE SET
			strategy = excluded.strategy,
			decided_at = excluded.decided_at
	`, string(entityType), localID, strategy, record.Millis(s.clock.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("decision for %s/%s: %w", entityType, localID, ErrNotFound)
		}
		return syncerr.Storage("set decision", err)
	}
	return nil
}

// Decision returns the recorded user decision for a record, if any.
func (s *Store) Decision(ctx context.Context, entityType record.EntityType, localID string) (string, bool, error) {
	var strategy string
	err := s.db.QueryRowContext(ctx, `
		SELECT strategy FROM conflict_decisions WHERE entity_type = ? AND local_id = ?
	`, string(entityType), localID).Scan(&strategy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, syncerr.Storage("read decision", err)
	}
	return strategy, true, nil
}

// ClearDecision forgets the decision for a record once it has been applied.
func (s *Store) ClearDecision(ctx context.Context, entityType record.EntityType, localID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conflict_decisions WHERE entity_type = ? AND local_id = ?
	`, string(entityType), localID)
	if err != nil {
		return syncerr.Storage("clear decision", err)
	}
	return nil
}

// HoldConflict marks a record's conflict as held for a user decision. A
// decision the user already recorded is kept.
func (s *Store) HoldConflict(ctx context.Context, entityType record.EntityType, localID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflict_decisions (entity_type, local_id, strategy, decided_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, local_id) DO NOTHING
	`, string(entityType), localID, heldStrategy, record.Millis(s.clock.Now()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("hold %s/%s: %w", entityType, localID, ErrNotFound)
		}
		return syncerr.Storage("hold conflict", err)
	}
	return nil
}

// ListHeld returns every conflict still waiting for a user decision, oldest
// first.
func (s *Store) ListHeld(ctx context.Context) ([]HeldConflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, local_id, decided_at FROM conflict_decisions
		WHERE strategy = ?
		ORDER BY decided_at ASC, local_id COLLATE BINARY ASC
	`, heldStrategy)
	if err != nil {
		return nil, syncerr.Storage("list held", err)
	}
	defer rows.Close()

	held := []HeldConflict{}
	for rows.Next() {
		var (
			h  HeldConflict
			et string
			ms int64
		)
		if err := rows.Scan(&et, &h.LocalID, &ms); err != nil {
			return nil, syncerr.Storage("list held", err)
		}
		h.EntityType = record.EntityType(et)
		h.HeldAt = record.FromMillis(ms)
		held = append(held, h)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Storage("list held", err)
	}
	return held, nil
}

// Decisions returns the decision rows of one entity type, held ones
// included, keyed by local id.
func (s *Store) Decisions(ctx context.Context, entityType record.EntityType) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, strategy FROM conflict_decisions WHERE entity_type = ?
	`, string(entityType))
	if err != nil {
		return nil, syncerr.Storage("list decisions", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, strategy string
		if err := rows.Scan(&id, &strategy); err != nil {
			return nil, syncerr.Storage("list decisions", err)
		}
		out[id] = strategy
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Storage("list decisions", err)
	}
	return out, nil
}

// ClearDecisions forgets every held conflict and recorded decision.
func (s *Store) ClearDecisions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conflict_decisions`); err != nil {
		return syncerr.Storage("clear decisions", err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/record"
	"github.com/roach88/fieldsync/internal/syncerr"
)

// QueueStats summarizes the mutation queue.
type QueueStats struct {
	Pending map[record.EntityType]int
	Stuck   map[record.EntityType]int
}

// PeekOrdered returns the pending mutations of one entity type, oldest
// first. Stuck mutations are excluded.
//
// Returns an empty slice (not nil) if the queue is empty.
func (s *Store) PeekOrdered(ctx context.Context, entityType record.EntityType) ([]record.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE entity_type = ? AND state = ?
		ORDER BY seq ASC
	`, string(entityType), string(record.StatePending))
	if err != nil {
		return nil, syncerr.Storage("peek ordered", err)
	}
	mutations, err := scanMutations(rows)
	if err != nil {
		return nil, syncerr.Storage("peek ordered", err)
	}
	return mutations, nil
}

// PendingFor returns every queued mutation of one record, stuck ones
// included, oldest first.
func (s *Store) PendingFor(ctx context.Context, entityType record.EntityType, localID string) ([]record.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE entity_type = ? AND target_local_id = ?
		ORDER BY seq ASC
	`, string(entityType), localID)
	if err != nil {
		return nil, syncerr.Storage("pending for record", err)
	}
	mutations, err := scanMutations(rows)
	if err != nil {
		return nil, syncerr.Storage("pending for record", err)
	}
	return mutations, nil
}

// HasPending reports whether any mutation is queued for a record.
func (s *Store) HasPending(ctx context.Context, entityType record.EntityType, localID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutations
		WHERE entity_type = ? AND target_local_id = ?
	`, string(entityType), localID).Scan(&n)
	if err != nil {
		return false, syncerr.Storage("has pending", err)
	}
	return n > 0, nil
}

// GetMutation retrieves a queued mutation by id.
// Returns an error wrapping ErrNotFound if it is no longer queued.
func (s *Store) GetMutation(ctx context.Context, id string) (record.Mutation, error) {
	m, err := getMutation(ctx, s.db, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return record.Mutation{}, syncerr.Storage("get mutation", err)
	}
	return m, err
}

// Dequeue removes a mutation. Removing a mutation that is already gone is
// not an error, so repeating an acknowledgement is safe.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
		return syncerr.Storage("dequeue", err)
	}
	return nil
}

// RecordFailure increments a mutation's retry count, stores the failure and
// gates the next attempt until nextAttemptAt. Returns the updated mutation.
func (s *Store) RecordFailure(ctx context.Context, id string, cause error, nextAttemptAt time.Time) (record.Mutation, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var m record.Mutation
	err := s.inTx(ctx, "record failure", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE mutations SET
				retry_count = retry_count + 1,
				last_error = ?,
				next_attempt_at = ?
			WHERE id = ?
		`, msg, record.Millis(nextAttemptAt), id)
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("mutation %s: %w", id, ErrNotFound)
		}
		m, err = getMutation(ctx, tx, id)
		return err
	})
	if err != nil {
		return record.Mutation{}, err
	}
	return m, nil
}

// MarkStuck moves a mutation to the stuck state. Stuck mutations are no
// longer drained until Requeue is called.
func (s *Store) MarkStuck(ctx context.Context, id string) error {
	return s.setState(ctx, "mark stuck", id, record.StateStuck, false)
}

// Requeue returns a stuck mutation to the pending state with a fresh retry
// budget.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.setState(ctx, "requeue", id, record.StatePending, true)
}

// MarkAttempted flags a mutation as sent. From then on later updates of
// the record queue behind it instead of being compacted into it.
func (s *Store) MarkAttempted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE mutations SET attempted = 1 WHERE id = ?`, id)
	if err != nil {
		return syncerr.Storage("mark attempted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return syncerr.Storage("mark attempted", err)
	}
	if n == 0 {
		return fmt.Errorf("mark attempted %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) setState(ctx context.Context, op, id string, state record.MutationState, reset bool) error {
	query := `UPDATE mutations SET state = ? WHERE id = ?`
	if reset {
		query = `UPDATE mutations SET state = ?, retry_count = 0, last_error = '', next_attempt_at = 0 WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, string(state), id)
	if err != nil {
		return syncerr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return syncerr.Storage(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// ListStuck returns every stuck mutation, oldest first.
func (s *Store) ListStuck(ctx context.Context) ([]record.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE state = ?
		ORDER BY seq ASC
	`, string(record.StateStuck))
	if err != nil {
		return nil, syncerr.Storage("list stuck", err)
	}
	mutations, err := scanMutations(rows)
	if err != nil {
		return nil, syncerr.Storage("list stuck", err)
	}
	return mutations, nil
}

// Stats counts queued mutations per entity type and state.
func (s *Store) Stats(ctx context.Context) (QueueStats, error) {
	stats := QueueStats{
		Pending: map[record.EntityType]int{},
		Stuck:   map[record.EntityType]int{},
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, state, COUNT(*) FROM mutations
		GROUP BY entity_type, state
	`)
	if err != nil {
		return stats, syncerr.Storage("queue stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			et, state string
			n         int
		)
		if err := rows.Scan(&et, &state, &n); err != nil {
			return stats, syncerr.Storage("queue stats", err)
		}
		if record.MutationState(state) == record.StateStuck {
			stats.Stuck[record.EntityType(et)] = n
		} else {
			stats.Pending[record.EntityType(et)] = n
		}
	}
	if err := rows.Err(); err != nil {
		return stats, syncerr.Storage("queue stats", err)
	}
	return stats, nil
}

// Clear drops every queued mutation.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutations`); err != nil {
		return syncerr.Storage("clear queue", err)
	}
	return nil
}

func getMutation(ctx context.Context, q querier, id string) (record.Mutation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE id = ?
	`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Mutation{}, fmt.Errorf("mutation %s: %w", id, ErrNotFound)
	}
	return m, err
}

// tailMutation returns the newest queued mutation of a record.
func tailMutation(ctx context.Context, q querier, localID string) (record.Mutation, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+mutationColumns+`
		FROM mutations
		WHERE target_local_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, localID)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Mutation{}, false, nil
	}
	if err != nil {
		return record.Mutation{}, false, fmt.Errorf("tail mutation for %s: %w", localID, err)
	}
	return m, true, nil
}

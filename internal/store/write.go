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

var (
	// ErrDeleted is returned when writing to a tombstoned record.
	ErrDeleted = errors.New("record is deleted")

	// ErrInvalid is returned for records or mutations that break the
	// store's invariants, such as a mutation targeting another record.
	ErrInvalid = errors.New("invalid write")
)

// Put upserts a record without enqueuing a mutation. It is meant for
// seeding and for versions that already exist on the remote; user edits go
// through WriteWithMutation.
func (s *Store) Put(ctx context.Context, rec record.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	payload, fp, err := encodePayload(rec.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records
		(local_id, entity_type, server_id, payload, fingerprint, is_synced, updated_at, server_updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = excluded.server_id,
			payload = excluded.payload,
			fingerprint = excluded.fingerprint,
			is_synced = excluded.is_synced,
			updated_at = excluded.updated_at,
			server_updated_at = excluded.server_updated_at,
			is_deleted = excluded.is_deleted
	`,
		rec.LocalID,
		string(rec.EntityType),
		nullableString(rec.ServerID),
		payload,
		fp,
		boolToInt(rec.IsSynced),
		record.Millis(rec.UpdatedAt),
		record.Millis(rec.ServerUpdatedAt),
		boolToInt(rec.IsDeleted),
	)
	if err != nil {
		return syncerr.Storage("put record", err)
	}
	return nil
}

// WriteWithMutation writes a record and enqueues the mutation describing
// the write in a single transaction: both persist or neither does.
//
// The record is always left unsynced. An update whose queue tail for the
// same record is a pending update is compacted into that tail: the tail
// takes the new payload, keeps its queuedAt and unions the changed fields.
// A tail that was already sent is never compacted: the remote may hold its
// payload under its id, so the update is enqueued behind it instead.
// Returns the mutation as persisted (the tail when compacted).
func (s *Store) WriteWithMutation(ctx context.Context, rec record.Record, mut record.Mutation) (record.Mutation, error) {
	var persisted record.Mutation
	err := s.inTx(ctx, "write with mutation", func(tx *sql.Tx) error {
		var err error
		persisted, err = writeWithMutationTx(ctx, tx, rec, mut)
		return err
	})
	if err != nil {
		return record.Mutation{}, err
	}
	return persisted, nil
}

// CreateRecord captures a new record and enqueues its create mutation.
func (s *Store) CreateRecord(ctx context.Context, p record.Payload) (record.Record, record.Mutation, error) {
	if p == nil {
		return record.Record{}, record.Mutation{}, fmt.Errorf("%w: create with nil payload", ErrInvalid)
	}
	now := s.clock.Now()
	rec := record.Record{
		LocalID:    s.ids.NewID(),
		EntityType: p.EntityType(),
		Payload:    p,
		UpdatedAt:  now,
	}
	mut := record.Mutation{
		ID:            s.ids.NewID(),
		EntityType:    rec.EntityType,
		TargetLocalID: rec.LocalID,
		Operation:     record.OpCreate,
		Payload:       p,
		QueuedAt:      now,
	}

	persisted, err := s.WriteWithMutation(ctx, rec, mut)
	if err != nil {
		return record.Record{}, record.Mutation{}, fmt.Errorf("create %s: %w", rec.EntityType, err)
	}
	return rec, persisted, nil
}

// UpdateRecord replaces a record's payload and enqueues an update mutation.
// An update that changes nothing returns the stored record and a nil
// mutation without touching the queue.
func (s *Store) UpdateRecord(ctx context.Context, localID string, p record.Payload) (record.Record, *record.Mutation, error) {
	if p == nil {
		return record.Record{}, nil, fmt.Errorf("%w: update with nil payload", ErrInvalid)
	}

	var (
		rec       record.Record
		persisted *record.Mutation
	)
	err := s.inTx(ctx, "update record", func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, p.EntityType(), localID)
		if err != nil {
			return err
		}
		if existing.IsDeleted {
			return fmt.Errorf("update %s/%s: %w", p.EntityType(), localID, ErrDeleted)
		}

		same, err := samePayload(existing.Payload, p)
		if err != nil {
			return err
		}
		if same {
			rec = existing
			return nil
		}

		changed, err := record.ChangedFields(existing.Payload, p)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		rec = existing
		rec.Payload = p
		rec.UpdatedAt = now
		rec.IsSynced = false

		m, err := writeWithMutationTx(ctx, tx, rec, record.Mutation{
			ID:            s.ids.NewID(),
			EntityType:    rec.EntityType,
			TargetLocalID: rec.LocalID,
			Operation:     record.OpUpdate,
			Payload:       p,
			ChangedFields: changed,
			QueuedAt:      now,
		})
		if err != nil {
			return err
		}
		persisted = &m
		return nil
	})
	if err != nil {
		return record.Record{}, nil, err
	}
	return rec, persisted, nil
}

// DeleteRecord tombstones a record and enqueues a delete mutation. The
// tombstone is purged once the remote acknowledges the delete. Deleting a
// tombstone again is a no-op and returns a nil mutation.
func (s *Store) DeleteRecord(ctx context.Context, entityType record.EntityType, localID string) (*record.Mutation, error) {
	var persisted *record.Mutation
	err := s.inTx(ctx, "delete record", func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, entityType, localID)
		if err != nil {
			return err
		}
		if existing.IsDeleted {
			return nil
		}

		now := s.clock.Now()
		rec := existing
		rec.IsDeleted = true
		rec.IsSynced = false
		rec.UpdatedAt = now

		m, err := writeWithMutationTx(ctx, tx, rec, record.Mutation{
			ID:            s.ids.NewID(),
			EntityType:    rec.EntityType,
			TargetLocalID: rec.LocalID,
			Operation:     record.OpDelete,
			Payload:       rec.Payload,
			QueuedAt:      now,
		})
		if err != nil {
			return err
		}
		persisted = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// MarkSynced records the server identity of a record. The record becomes
// synced only if no mutation for it remains queued.
func (s *Store) MarkSynced(ctx context.Context, localID string, ack record.Ack) error {
	return s.inTx(ctx, "mark synced", func(tx *sql.Tx) error {
		return markSyncedTx(ctx, tx, localID, ack)
	})
}

// Acknowledge applies a remote acknowledgement of mut: it stores the server
// identity and dequeues the mutation in one transaction. The record becomes
// synced when nothing else is queued for it; an acknowledged delete purges
// the tombstone.
//
// If the queued mutation was compacted with a newer payload after mut was
// pushed, it stays queued under a fresh id so the newer payload is pushed
// next and is not answered with the ack cached for mut.
//
// Acknowledging the same mutation twice is a no-op the second time.
func (s *Store) Acknowledge(ctx context.Context, mut record.Mutation, ack record.Ack) error {
	return s.inTx(ctx, "acknowledge", func(tx *sql.Tx) error {
		current, err := getMutation(ctx, tx, mut.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		same, err := samePayload(current.Payload, mut.Payload)
		if err != nil {
			return err
		}
		if same {
			if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, mut.ID); err != nil {
				return fmt.Errorf("dequeue %s: %w", mut.ID, err)
			}
		} else {
			// Compacted while in flight: the newer payload still has to go out.
			if _, err := tx.ExecContext(ctx, `
				UPDATE mutations SET id = ?, retry_count = 0, last_error = '', next_attempt_at = 0, attempted = 0
				WHERE id = ?
			`, s.ids.NewID(), mut.ID); err != nil {
				return fmt.Errorf("reset compacted %s: %w", mut.ID, err)
			}
		}

		if err := markSyncedTx(ctx, tx, mut.TargetLocalID, ack); err != nil {
			return err
		}
		return purgeTombstoneTx(ctx, tx, mut.TargetLocalID)
	})
}

// Reject drops a mutation the remote refused as invalid. As with
// Acknowledge, a mutation compacted after the push stays queued.
func (s *Store) Reject(ctx context.Context, mut record.Mutation) error {
	return s.inTx(ctx, "reject", func(tx *sql.Tx) error {
		current, err := getMutation(ctx, tx, mut.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		same, err := samePayload(current.Payload, mut.Payload)
		if err != nil {
			return err
		}
		if !same {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, mut.ID); err != nil {
			return fmt.Errorf("reject %s: %w", mut.ID, err)
		}
		return nil
	})
}

// ApplyRemote upserts a remote version, matching the local record by
// server id and then by the echoed local id. The record is marked synced
// unless mutations for it are still queued. A version older than the one
// already applied is ignored. A remote delete removes the local record.
// Returns the resulting record (zero for deletes).
func (s *Store) ApplyRemote(ctx context.Context, rv record.RemoteVersion) (record.Record, error) {
	var out record.Record
	err := s.inTx(ctx, "apply remote", func(tx *sql.Tx) error {
		existing, found, err := findForRemote(ctx, tx, rv)
		if err != nil {
			return err
		}
		if !found {
			if rv.Deleted {
				return nil
			}
			out, err = s.insertRemoteTx(ctx, tx, rv)
			return err
		}
		out, err = applyRemoteTx(ctx, tx, existing, rv)
		return err
	})
	if err != nil {
		return record.Record{}, err
	}
	return out, nil
}

// Match finds the local record a remote version refers to, by server id
// and then by the echoed local id.
func (s *Store) Match(ctx context.Context, rv record.RemoteVersion) (record.Record, bool, error) {
	var (
		rec   record.Record
		found bool
	)
	err := s.inTx(ctx, "match remote", func(tx *sql.Tx) error {
		var err error
		rec, found, err = findForRemote(ctx, tx, rv)
		return err
	})
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, found, nil
}

// ReplaceWithRemote discards every queued mutation of a local record and
// applies the remote version in its place, in one transaction. This is the
// server_wins resolution.
func (s *Store) ReplaceWithRemote(ctx context.Context, localID string, rv record.RemoteVersion) (record.Record, error) {
	var out record.Record
	err := s.inTx(ctx, "replace with remote", func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, rv.EntityType, localID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM mutations WHERE target_local_id = ?`, localID); err != nil {
			return fmt.Errorf("discard mutations for %s: %w", localID, err)
		}
		existing.ServerUpdatedAt = time.Time{}
		out, err = applyRemoteTx(ctx, tx, existing, rv)
		return err
	})
	if err != nil {
		return record.Record{}, err
	}
	return out, nil
}

// KeepLocal records the remote identity of a record while keeping the
// local data, and requeues its mutations so the next push overwrites the
// remote. If nothing is queued anymore an update carrying the local payload
// is enqueued. This is the client_wins resolution.
func (s *Store) KeepLocal(ctx context.Context, localID string, rv record.RemoteVersion) error {
	return s.inTx(ctx, "keep local", func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, rv.EntityType, localID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE records SET
				server_id = COALESCE(server_id, ?),
				server_updated_at = MAX(server_updated_at, ?),
				is_synced = 0
			WHERE local_id = ?
		`, nullableString(rv.ServerID), record.Millis(rv.UpdatedAt), localID); err != nil {
			return fmt.Errorf("keep local %s: %w", localID, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE mutations SET state = ?, retry_count = 0, last_error = '', next_attempt_at = 0
			WHERE target_local_id = ?
		`, string(record.StatePending), localID)
		if err != nil {
			return fmt.Errorf("requeue mutations for %s: %w", localID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("requeue mutations for %s: %w", localID, err)
		}
		if n > 0 {
			return nil
		}

		op := record.OpUpdate
		if existing.IsDeleted {
			op = record.OpDelete
		}
		now := s.clock.Now()
		existing.UpdatedAt = now
		_, err = writeWithMutationTx(ctx, tx, existing, record.Mutation{
			ID:            s.ids.NewID(),
			EntityType:    existing.EntityType,
			TargetLocalID: localID,
			Operation:     op,
			Payload:       existing.Payload,
			QueuedAt:      now,
		})
		return err
	})
}

// ApplyMerged replaces a record's queued mutations with a single update
// carrying the merged payload, so the merge reaches the remote. changed
// lists the fields that differ from the remote version.
func (s *Store) ApplyMerged(ctx context.Context, localID string, merged record.Payload, changed []string, rv record.RemoteVersion) (record.Record, error) {
	var out record.Record
	err := s.inTx(ctx, "apply merged", func(tx *sql.Tx) error {
		existing, err := getRecord(ctx, tx, merged.EntityType(), localID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM mutations WHERE target_local_id = ?`, localID); err != nil {
			return fmt.Errorf("discard mutations for %s: %w", localID, err)
		}
		now := s.clock.Now()
		out = existing
		out.Payload = merged
		out.IsDeleted = false
		out.UpdatedAt = now
		out.IsSynced = false
		if out.ServerID == "" {
			out.ServerID = rv.ServerID
		}
		if rv.UpdatedAt.After(out.ServerUpdatedAt) {
			out.ServerUpdatedAt = rv.UpdatedAt
		}
		_, err = writeWithMutationTx(ctx, tx, out, record.Mutation{
			ID:            s.ids.NewID(),
			EntityType:    out.EntityType,
			TargetLocalID: localID,
			Operation:     record.OpUpdate,
			Payload:       merged,
			ChangedFields: changed,
			QueuedAt:      now,
		})
		return err
	})
	if err != nil {
		return record.Record{}, err
	}
	return out, nil
}

// WipeAll deletes every record. Queued mutations and conflict decisions go
// with them through ON DELETE CASCADE.
func (s *Store) WipeAll(ctx context.Context) error {
	return s.inTx(ctx, "wipe all", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
		return nil
	})
}

func validateRecord(rec record.Record) error {
	if rec.LocalID == "" {
		return fmt.Errorf("%w: record has empty local id", ErrInvalid)
	}
	if !rec.EntityType.Valid() {
		return fmt.Errorf("%w: record %s has unknown entity type %q", ErrInvalid, rec.LocalID, rec.EntityType)
	}
	if rec.Payload == nil {
		return fmt.Errorf("%w: record %s has nil payload", ErrInvalid, rec.LocalID)
	}
	if rec.Payload.EntityType() != rec.EntityType {
		return fmt.Errorf("%w: record %s carries a %s payload on a %s record",
			ErrInvalid, rec.LocalID, rec.Payload.EntityType(), rec.EntityType)
	}
	return nil
}

func validateMutation(rec record.Record, mut record.Mutation) error {
	if mut.ID == "" {
		return fmt.Errorf("%w: mutation has empty id", ErrInvalid)
	}
	if !mut.Operation.Valid() {
		return fmt.Errorf("%w: mutation %s has invalid operation %q", ErrInvalid, mut.ID, mut.Operation)
	}
	if mut.EntityType != rec.EntityType || mut.TargetLocalID != rec.LocalID {
		return fmt.Errorf("%w: mutation %s targets %s/%s, record is %s/%s",
			ErrInvalid, mut.ID, mut.EntityType, mut.TargetLocalID, rec.EntityType, rec.LocalID)
	}
	if mut.Payload == nil || mut.Payload.EntityType() != mut.EntityType {
		return fmt.Errorf("%w: mutation %s payload does not match entity type %s", ErrInvalid, mut.ID, mut.EntityType)
	}
	return nil
}

func writeWithMutationTx(ctx context.Context, tx *sql.Tx, rec record.Record, mut record.Mutation) (record.Mutation, error) {
	if err := validateRecord(rec); err != nil {
		return record.Mutation{}, err
	}
	if err := validateMutation(rec, mut); err != nil {
		return record.Mutation{}, err
	}

	payload, fp, err := encodePayload(rec.Payload)
	if err != nil {
		return record.Mutation{}, err
	}
	mutPayload, _, err := encodePayload(mut.Payload)
	if err != nil {
		return record.Mutation{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
		(local_id, entity_type, server_id, payload, fingerprint, is_synced, updated_at, server_updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id = COALESCE(excluded.server_id, records.server_id),
			payload = excluded.payload,
			fingerprint = excluded.fingerprint,
			is_synced = 0,
			updated_at = excluded.updated_at,
			server_updated_at = MAX(records.server_updated_at, excluded.server_updated_at),
			is_deleted = excluded.is_deleted
	`,
		rec.LocalID,
		string(rec.EntityType),
		nullableString(rec.ServerID),
		payload,
		fp,
		record.Millis(rec.UpdatedAt),
		record.Millis(rec.ServerUpdatedAt),
		boolToInt(rec.IsDeleted),
	)
	if err != nil {
		return record.Mutation{}, fmt.Errorf("write record %s: %w", rec.LocalID, err)
	}

	if mut.Operation == record.OpUpdate {
		tail, ok, err := tailMutation(ctx, tx, rec.LocalID)
		if err != nil {
			return record.Mutation{}, err
		}
		if ok && tail.Operation == record.OpUpdate && tail.State == record.StatePending && !tail.Attempted {
			fields := record.UnionFields(tail.ChangedFields, mut.ChangedFields)
			encoded, err := marshalFields(fields)
			if err != nil {
				return record.Mutation{}, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE mutations SET payload = ?, changed_fields = ? WHERE id = ?
			`, mutPayload, encoded, tail.ID); err != nil {
				return record.Mutation{}, fmt.Errorf("compact into %s: %w", tail.ID, err)
			}
			tail.Payload = mut.Payload
			tail.ChangedFields = fields
			return tail, nil
		}
	}

	fields, err := marshalFields(mut.ChangedFields)
	if err != nil {
		return record.Mutation{}, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO mutations
		(id, entity_type, target_local_id, operation, payload, changed_fields, queued_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		mut.ID,
		string(mut.EntityType),
		mut.TargetLocalID,
		string(mut.Operation),
		mutPayload,
		fields,
		record.Millis(mut.QueuedAt),
		string(record.StatePending),
	)
	if err != nil {
		return record.Mutation{}, fmt.Errorf("enqueue %s: %w", mut.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return record.Mutation{}, fmt.Errorf("enqueue %s: last insert id: %w", mut.ID, err)
	}

	mut.Seq = seq
	mut.State = record.StatePending
	mut.RetryCount = 0
	mut.LastError = ""
	mut.NextAttemptAt = record.FromMillis(0)
	mut.QueuedAt = record.FromMillis(record.Millis(mut.QueuedAt))
	return mut, nil
}

func markSyncedTx(ctx context.Context, tx *sql.Tx, localID string, ack record.Ack) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE records SET
			server_id = COALESCE(?, server_id),
			server_updated_at = MAX(server_updated_at, ?),
			is_synced = CASE WHEN EXISTS (
				SELECT 1 FROM mutations WHERE target_local_id = records.local_id
			) THEN 0 ELSE 1 END
		WHERE local_id = ?
	`, nullableString(ack.ServerID), record.Millis(ack.UpdatedAt), localID)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", localID, err)
	}
	if n == 0 {
		return fmt.Errorf("mark synced %s: %w", localID, ErrNotFound)
	}
	return nil
}

// purgeTombstoneTx removes a deleted record once nothing is queued for it.
func purgeTombstoneTx(ctx context.Context, tx *sql.Tx, localID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM records
		WHERE local_id = ? AND is_deleted = 1
		AND NOT EXISTS (SELECT 1 FROM mutations WHERE target_local_id = ?)
	`, localID, localID)
	if err != nil {
		return fmt.Errorf("purge tombstone %s: %w", localID, err)
	}
	return nil
}

func findForRemote(ctx context.Context, tx *sql.Tx, rv record.RemoteVersion) (record.Record, bool, error) {
	if rv.ServerID != "" {
		rec, err := getRecordByServerID(ctx, tx, rv.EntityType, rv.ServerID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return record.Record{}, false, err
		}
	}
	if rv.LocalID != "" {
		rec, err := getRecord(ctx, tx, rv.EntityType, rv.LocalID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return record.Record{}, false, err
		}
	}
	return record.Record{}, false, nil
}

func (s *Store) insertRemoteTx(ctx context.Context, tx *sql.Tx, rv record.RemoteVersion) (record.Record, error) {
	rec := record.Record{
		LocalID:         s.ids.NewID(),
		EntityType:      rv.EntityType,
		ServerID:        rv.ServerID,
		Payload:         rv.Payload,
		IsSynced:        true,
		UpdatedAt:       rv.UpdatedAt,
		ServerUpdatedAt: rv.UpdatedAt,
	}
	if err := validateRecord(rec); err != nil {
		return record.Record{}, err
	}
	payload, fp, err := encodePayload(rec.Payload)
	if err != nil {
		return record.Record{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
		(local_id, entity_type, server_id, payload, fingerprint, is_synced, updated_at, server_updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, 0)
	`,
		rec.LocalID,
		string(rec.EntityType),
		nullableString(rec.ServerID),
		payload,
		fp,
		record.Millis(rec.UpdatedAt),
		record.Millis(rec.ServerUpdatedAt),
	)
	if err != nil {
		return record.Record{}, fmt.Errorf("insert remote %s: %w", rv.ServerID, err)
	}
	return rec, nil
}

func applyRemoteTx(ctx context.Context, tx *sql.Tx, existing record.Record, rv record.RemoteVersion) (record.Record, error) {
	if rv.UpdatedAt.Before(existing.ServerUpdatedAt) {
		return existing, nil
	}

	if rv.Deleted {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE local_id = ?`, existing.LocalID); err != nil {
			return record.Record{}, fmt.Errorf("apply remote delete %s: %w", existing.LocalID, err)
		}
		return record.Record{}, nil
	}

	out := existing
	out.Payload = rv.Payload
	out.UpdatedAt = rv.UpdatedAt
	out.ServerUpdatedAt = rv.UpdatedAt
	out.IsDeleted = false
	if rv.ServerID != "" {
		out.ServerID = rv.ServerID
	}
	if err := validateRecord(out); err != nil {
		return record.Record{}, err
	}
	payload, fp, err := encodePayload(out.Payload)
	if err != nil {
		return record.Record{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE records SET
			server_id = ?,
			payload = ?,
			fingerprint = ?,
			updated_at = ?,
			server_updated_at = ?,
			is_deleted = 0,
			is_synced = CASE WHEN EXISTS (
				SELECT 1 FROM mutations WHERE target_local_id = records.local_id
			) THEN 0 ELSE 1 END
		WHERE local_id = ?
	`,
		nullableString(out.ServerID),
		payload,
		fp,
		record.Millis(out.UpdatedAt),
		record.Millis(out.ServerUpdatedAt),
		out.LocalID,
	); err != nil {
		return record.Record{}, fmt.Errorf("apply remote %s: %w", out.LocalID, err)
	}

	pending, err := countMutationsFor(ctx, tx, out.LocalID)
	if err != nil {
		return record.Record{}, err
	}
	out.IsSynced = pending == 0
	return out, nil
}

func samePayload(a, b record.Payload) (bool, error) {
	fa, err := record.Fingerprint(a)
	if err != nil {
		return false, err
	}
	fb, err := record.Fingerprint(b)
	if err != nil {
		return false, err
	}
	return fa == fb, nil
}

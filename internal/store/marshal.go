package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldsync/internal/record"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = `local_id, entity_type, server_id, payload, is_synced,
	updated_at, server_updated_at, is_deleted`

const mutationColumns = `seq, id, entity_type, target_local_id, operation, payload,
	changed_fields, queued_at, retry_count, last_error, next_attempt_at, attempted, state`

// encodePayload returns the stored JSON form and the fingerprint of p.
func encodePayload(p record.Payload) (payload string, fingerprint string, err error) {
	data, err := record.EncodePayload(p)
	if err != nil {
		return "", "", err
	}
	fp, err := record.Fingerprint(p)
	if err != nil {
		return "", "", err
	}
	return string(data), fp, nil
}

func marshalFields(fields []string) (string, error) {
	if len(fields) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal changed fields: %w", err)
	}
	return string(data), nil
}

func unmarshalFields(s string) ([]string, error) {
	var fields []string
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal changed fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableString maps "" to NULL so the partial unique index on server_id
// only covers records the remote has acknowledged.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanRecord(row rowScanner) (record.Record, error) {
	var (
		rec             record.Record
		entityType      string
		serverID        sql.NullString
		payload         string
		isSynced        int
		updatedAt       int64
		serverUpdatedAt int64
		isDeleted       int
	)
	if err := row.Scan(&rec.LocalID, &entityType, &serverID, &payload, &isSynced,
		&updatedAt, &serverUpdatedAt, &isDeleted); err != nil {
		return record.Record{}, err
	}

	rec.EntityType = record.EntityType(entityType)
	p, err := record.DecodePayload(rec.EntityType, []byte(payload))
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", rec.LocalID, err)
	}
	rec.Payload = p
	rec.ServerID = serverID.String
	rec.IsSynced = isSynced != 0
	rec.UpdatedAt = record.FromMillis(updatedAt)
	rec.ServerUpdatedAt = record.FromMillis(serverUpdatedAt)
	rec.IsDeleted = isDeleted != 0
	return rec, nil
}

func scanMutation(row rowScanner) (record.Mutation, error) {
	var (
		m             record.Mutation
		entityType    string
		operation     string
		payload       string
		changedFields string
		queuedAt      int64
		nextAttemptAt int64
		attempted     int
		state         string
	)
	if err := row.Scan(&m.Seq, &m.ID, &entityType, &m.TargetLocalID, &operation, &payload,
		&changedFields, &queuedAt, &m.RetryCount, &m.LastError, &nextAttemptAt, &attempted, &state); err != nil {
		return record.Mutation{}, err
	}

	m.EntityType = record.EntityType(entityType)
	m.Operation = record.Operation(operation)
	m.State = record.MutationState(state)
	m.QueuedAt = record.FromMillis(queuedAt)
	m.NextAttemptAt = record.FromMillis(nextAttemptAt)
	m.Attempted = attempted != 0

	p, err := record.DecodePayload(m.EntityType, []byte(payload))
	if err != nil {
		return record.Mutation{}, fmt.Errorf("mutation %s: %w", m.ID, err)
	}
	m.Payload = p

	if m.ChangedFields, err = unmarshalFields(changedFields); err != nil {
		return record.Mutation{}, fmt.Errorf("mutation %s: %w", m.ID, err)
	}
	return m, nil
}

func scanMutations(rows *sql.Rows) ([]record.Mutation, error) {
	defer rows.Close()

	mutations := []record.Mutation{}
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return mutations, nil
}

func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	defer rows.Close()

	records := []record.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

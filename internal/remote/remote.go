// Package remote defines the remote authority the orchestrator syncs
// against, an HTTP/JSON client for it, and an in-memory authority with an
// HTTP handler for tests and local development.
package remote

import (
	"context"
	"time"

	"github.com/roach88/fieldsync/internal/record"
)

// Authority is the server-side source of truth.
//
// Errors are classified with syncerr: Validation for rejected payloads,
// Auth for rejected credentials and Transient for everything retryable.
type Authority interface {
	// Write applies one mutation. Writes are idempotent on MutationID.
	Write(ctx context.Context, token string, req WriteRequest) (record.Ack, error)

	// Changes lists records of one entity type changed strictly after
	// req.Since, oldest first.
	//
	// Modification times must be unique within an entity type. The
	// orchestrator resumes paging from the UpdatedAt of the last version of
	// a page, so records sharing that time on the next page would never be
	// pulled.
	Changes(ctx context.Context, token string, req ChangesRequest) (ChangeSet, error)
}

// WriteRequest is a queued mutation as sent to the remote.
type WriteRequest struct {
	MutationID    string
	EntityType    record.EntityType
	Operation     record.Operation
	LocalID       string
	ServerID      string
	Payload       record.Payload
	ChangedFields []string
	QueuedAt      time.Time
}

// NewWriteRequest builds the request for a mutation of a record that is
// known to the remote as serverID ("" before its create is acknowledged).
func NewWriteRequest(m record.Mutation, serverID string) WriteRequest {
	return WriteRequest{
		MutationID:    m.ID,
		EntityType:    m.EntityType,
		Operation:     m.Operation,
		LocalID:       m.TargetLocalID,
		ServerID:      serverID,
		Payload:       m.Payload,
		ChangedFields: m.ChangedFields,
		QueuedAt:      m.QueuedAt,
	}
}

// ChangesRequest asks for one page of remote changes.
type ChangesRequest struct {
	EntityType record.EntityType
	Since      time.Time
	Limit      int
}

// ChangeSet is one page of remote changes.
type ChangeSet struct {
	Versions []record.RemoteVersion
	// HasMore is set when further changes follow the last version.
	HasMore bool
}

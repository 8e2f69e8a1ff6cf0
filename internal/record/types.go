package record

import (
	"fmt"
	"time"
)

// EntityType names one kind of domain record.
type EntityType string

const (
	EntityLogEntry EntityType = "log_entry"
	EntityTicket   EntityType = "ticket"
	EntityPMTask   EntityType = "pm_task"
)

// EntityTypes lists every entity type in a fixed order. Sync cycles walk
// entity types in this order.
var EntityTypes = []EntityType{EntityLogEntry, EntityTicket, EntityPMTask}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType converts a string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Operation is the kind of write a mutation describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is create, update or delete.
func (op Operation) Valid() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// MutationState tracks whether a mutation is still drained by sync cycles.
type MutationState string

const (
	// StatePending mutations are drained by the orchestrator.
	StatePending MutationState = "pending"
	// StateStuck mutations exceeded the retry cap and wait for an operator.
	StateStuck MutationState = "stuck"
)

// Record is a domain record together with its sync metadata.
type Record struct {
	LocalID    string
	EntityType EntityType
	// ServerID is empty until the remote acknowledged the record's creation.
	ServerID string
	Payload  Payload
	IsSynced bool
	// UpdatedAt is the time of the last local or applied remote write.
	UpdatedAt time.Time
	// ServerUpdatedAt is the last remote updatedAt known for the record.
	ServerUpdatedAt time.Time
	IsDeleted       bool
}

// Mutation is a queued local write not yet acknowledged by the remote.
type Mutation struct {
	ID string
	// Seq is the durable enqueue order assigned by the store.
	Seq           int64
	EntityType    EntityType
	TargetLocalID string
	Operation     Operation
	// Payload is the record payload as of the write.
	Payload Payload
	// ChangedFields lists the top-level payload fields this mutation changed.
	// Empty for creates and deletes.
	ChangedFields []string
	QueuedAt      time.Time
	RetryCount    int
	LastError     string
	// NextAttemptAt gates retries after a transient failure.
	NextAttemptAt time.Time
	// Attempted is set once the mutation was sent to the remote.
	Attempted bool
	State     MutationState
}

// Cursor records how far pulls for one entity type have progressed.
type Cursor struct {
	EntityType   EntityType
	LastPulledAt time.Time
}

// RemoteVersion is a record as reported by the remote authority.
type RemoteVersion struct {
	EntityType EntityType
	ServerID   string
	// LocalID echoes the client identifier the record was created with, if
	// the record originated on this device.
	LocalID   string
	Payload   Payload
	UpdatedAt time.Time
	Deleted   bool
}

// Ack is the remote acknowledgement of a mutation.
type Ack struct {
	ServerID  string
	UpdatedAt time.Time
}

// Millis converts t to Unix milliseconds. The zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time. 0 maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

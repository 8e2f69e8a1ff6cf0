package engine

import (
	"time"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/record"
)

// Report summarizes one sync cycle.
type Report struct {
	// Reason is the trigger reason the cycle ran for.
	Reason string

	// Offline is set when the cycle ended at the connectivity check.
	Offline bool

	// Coalesced is set when a cycle was already running. The request was
	// folded into a rerun of that cycle and nothing else in the report is
	// populated.
	Coalesced bool

	// Cancelled is set when Cancel stopped the cycle. Progress made before
	// the cancellation is kept and reported.
	Cancelled bool

	Pushed  int
	Pulled  int
	Skipped int

	Conflicts  []ConflictOutcome
	DataErrors []DataError
	// Stuck lists mutations that exhausted their retries in this cycle.
	Stuck []StuckMutation
	// Deferred lists entity types whose push or pull stopped early on a
	// transient failure. They are retried on a later cycle.
	Deferred []Deferral

	StartedAt  time.Time
	FinishedAt time.Time
}

// ConflictOutcome reports how one conflict was settled.
type ConflictOutcome struct {
	EntityType record.EntityType
	LocalID    string
	ServerID   string
	Strategy   conflict.Strategy
	Outcome    conflict.Outcome
	// Decided is set when a user decision was applied.
	Decided bool
}

// DataError is a mutation the remote rejected as invalid. It was dropped
// from the queue and the local data needs fixing.
type DataError struct {
	MutationID string
	EntityType record.EntityType
	LocalID    string
	Operation  record.Operation
	Message    string
}

// StuckMutation is a mutation moved to the stuck state.
type StuckMutation struct {
	MutationID string
	EntityType record.EntityType
	LocalID    string
	RetryCount int
	LastError  string
}

// Deferral is an entity type whose work stopped early in a phase.
type Deferral struct {
	EntityType record.EntityType
	Phase      State
	Message    string
}

// Held returns the conflicts waiting for a user decision.
func (r Report) Held() []ConflictOutcome {
	var out []ConflictOutcome
	for _, c := range r.Conflicts {
		if c.Outcome == conflict.OutcomeHeld {
			out = append(out, c)
		}
	}
	return out
}

// merge folds the partial report of one entity type into r.
func (r *Report) merge(part Report) {
	r.Pushed += part.Pushed
	r.Pulled += part.Pulled
	r.Skipped += part.Skipped
	r.Conflicts = append(r.Conflicts, part.Conflicts...)
	r.DataErrors = append(r.DataErrors, part.DataErrors...)
	r.Stuck = append(r.Stuck, part.Stuck...)
	r.Deferred = append(r.Deferred, part.Deferred...)
}

package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/record"
)

// ErrStopped is returned by operations on an orchestrator that was stopped.
var ErrStopped = errors.New("orchestrator stopped")

// ErrSuspended is returned by SyncNow while the orchestrator is suspended.
var ErrSuspended = errors.New("sync suspended")

// CycleError reports the phase in which a sync cycle failed.
//
// The cause keeps its syncerr classification, so callers still branch with
// syncerr.IsAuth and friends.
type CycleError struct {
	// Phase is the state the cycle was in when it failed.
	Phase State

	// EntityType is the entity type being processed, if any.
	EntityType record.EntityType

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	if e.EntityType != "" {
		return fmt.Sprintf("sync %s (%s): %v", e.Phase, e.EntityType, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CycleError) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase of the first CycleError in err's chain, or ""
// if there is none. Uses errors.As to handle wrapped errors.
func PhaseOf(err error) State {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Phase
	}
	return ""
}

func cycleErr(phase State, et record.EntityType, err error) error {
	var ce *CycleError
	if errors.As(err, &ce) {
		return err
	}
	return &CycleError{Phase: phase, EntityType: et, Err: err}
}

package engine

// State is the orchestrator's position in a sync cycle.
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StatePushing     State = "pushing"
	StatePulling     State = "pulling"
	StateReconciling State = "reconciling"
	StateFailed      State = "failed"
)

// StateListener observes state transitions. It is called synchronously from
// the cycle goroutine and must not block.
type StateListener func(from, to State)

// Active reports whether s is part of a running cycle.
func (s State) Active() bool {
	return s != StateIdle && s != StateFailed
}

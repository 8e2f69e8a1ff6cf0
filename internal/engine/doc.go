// Package engine implements the sync orchestrator of fieldsync.
//
// The orchestrator drains the durable mutation queue against the remote
// authority and pulls remote changes back into the local store, handing
// divergent records to the conflict resolver.
//
// CYCLE:
//
//	Idle → Checking → Pushing → Pulling → Reconciling → Idle
//
// Failed is reachable from every active state and returns to Idle once the
// error has been reported to the caller.
//
//   - Checking: offline ends the cycle early with Report.Offline set.
//   - Pushing: each entity type drains its pending mutations in enqueue
//     order. Types run concurrently on a bounded worker pool; one type is
//     strictly sequential.
//   - Pulling: each entity type fetches changes after its cursor. Changes to
//     records without queued mutations are applied directly; the others
//     become conflict cases when the remote change is newer than the local
//     one by more than the skew buffer.
//   - Reconciling: cases are resolved with the entity type's strategy or a
//     decision the user recorded. The pull cursor never passes a case held
//     for a user decision.
//
// CONCURRENCY:
//
// Only one cycle runs at a time. A trigger arriving during a cycle is
// coalesced into a single rerun once the cycle ends. Remote calls are
// detached from cancellation and bounded by the request timeout, so Cancel
// never aborts a request mid-flight; the drain loops check for
// cancellation between items and keep the progress made so far.
// Suspend cancels and waits for the active cycle and holds off new ones,
// so local data can be erased without a cycle writing behind it.
//
// A pushed mutation is flagged as attempted before the remote call. Later
// edits of the record queue behind it rather than being compacted into
// it, since the remote may already hold its payload under its id.
package engine

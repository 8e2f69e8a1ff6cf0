// Package record defines the data model shared by the local store, the
// mutation queue and the sync orchestrator.
//
// A DomainRecord ([Record]) is one business entity captured in the field:
// a log entry, a ticket or a preventive-maintenance task. Its business
// fields live in a [Payload], a closed set of tagged variants, one per
// [EntityType]. Everything else on the record is sync metadata.
//
// A [Mutation] is a local write that the remote authority has not
// acknowledged yet. Mutations for one (entity type, local id) form a strictly
// ordered chain identified by their Seq.
//
// # Time
//
// Timestamps are wall-clock instants truncated to milliseconds, which is the
// resolution persisted by the store and exchanged with the remote. Ordering
// of mutations never depends on timestamps, only on Seq.
package record

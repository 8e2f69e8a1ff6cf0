// Package store provides SQLite-backed durable storage for field records
// and the queue of local writes waiting to reach the remote authority.
//
// One database holds:
//   - records: domain records with their sync metadata (LocalStore)
//   - mutations: pending local writes in enqueue order (MutationQueue)
//   - sync_cursors: per entity type pull watermarks
//   - conflict_decisions: user answers for conflicts held for a decision
//
// # Atomicity
//
// A record write and the mutation describing it are committed in one
// transaction (WriteWithMutation), so neither can be observed without the
// other. The same holds for acknowledgements: marking a record synced and
// dequeuing its mutation happen together (Acknowledge).
//
// # Ordering
//
// Mutations are ordered by seq, an AUTOINCREMENT key assigned at enqueue
// time. Timestamps are never used to order mutations.
//
// # Errors
//
// Every persistence failure is returned as a syncerr Storage error. Nothing
// in this package logs and continues on a failed write.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: a committed write survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: mutations cannot outlive their record
package store

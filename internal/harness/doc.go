// Package harness runs sync scenarios against the real store and
// orchestrator.
//
// A scenario scripts local writes, changes made by other devices on the
// remote, injected remote failures and clock movement, runs sync cycles in
// between and finally asserts on local state, remote state, the mutation
// queue and the trace of what happened.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	strategies:
//	  default: server_wins
//	  ticket: ask_user
//	skew: 1s
//	max_retries: 2
//	steps:
//	  - do: create
//	    type: ticket
//	    ref: t1
//	    data: { title: "Pump leak" }
//	  - do: sync
//	    expect: { pushed: 1 }
//	  - do: advance
//	    duration: 1m
//	  - do: remote_update
//	    ref: t1
//	    data: { status: closed }
//	assertions:
//	  - type: local_record
//	    ref: t1
//	    synced: true
//	    data: { status: closed }
//
// # Steps
//
//   - create, update, delete: local writes through the store
//   - remote_create, remote_update, remote_delete: another device edits the remote
//   - fail_next: the next remote requests for an entity type fail
//   - advance: move the clock
//   - offline, online: flip connectivity
//   - sync: run one cycle and check its report
//   - decide: record a strategy for a held conflict
//   - requeue: return a record's stuck mutations to the queue
//
// Refs name records across steps. create binds a ref to the local id and
// remote_create binds it to the server id; the other side is looked up
// when needed.
//
// # Assertion Types
//
//   - local_record: existence, sync flag and a subset of payload fields
//   - remote_record: existence and a subset of payload fields on the remote
//   - queue: pending and stuck mutation counts
//   - held: conflicts waiting for a decision
//   - trace_contains: a step with the given action (and ref) ran
//   - trace_count: a step action ran exactly N times
//
// # Deterministic Testing
//
// Every scenario runs on a fresh in-memory database with a fake clock,
// sequential local and server ids and a single sync worker, so traces are
// identical across runs and can be compared with golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/ask_user.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness

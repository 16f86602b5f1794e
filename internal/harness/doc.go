// Package harness replays reconciliation scenarios against a real Session.
//
// A scenario seeds an in-memory server, then walks a list of timed steps.
// The clock is a clock.Fake that only moves when a step says so, and
// remote calls can be held open after the server applied them, so races
// between a write and a lagging read are reproduced exactly.
//
// # Scenario Format
//
//	name: stale_read_during_pending_edit
//	description: "A read that started before an edit must not undo it"
//	collection: tasks
//	locks: { pending: 30s, tombstone: 5s, creation: 10s }
//	server:
//	  - { id: T1, fields: { status: doing }, updated_at: -1m }
//	steps:
//	  - { at: 0s, op: refresh }
//	  - { at: 0s, op: update, id: T1, fields: { status: done }, hold: true }
//	  - at: 1s
//	    op: ingest
//	    entities: [ { id: T1, fields: { status: doing }, updated_at: -30s } ]
//	    expect: { fields: { T1: { status: done } } }
//	  - { at: 2s, op: release, target: update }
//
// Offsets (at, updated_at, start) are durations relative to a fixed epoch.
// Supported ops: refresh, ingest, update, create, delete, release. refresh,
// update, create and delete accept hold: true; release lets the oldest held
// call of target (fetch, update, create, delete) return, failing it when
// fail is set. fail on any other step makes the server reject that call.
//
// # Trace
//
// Every step appends one line describing its outcome followed by the
// resulting view. The rendered trace is compared against
// testdata/golden/<name>.golden; regenerate with
//
//	go test ./internal/harness -update
package harness

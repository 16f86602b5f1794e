// Package reconcile decides how server snapshots are folded into the local
// canonical collection.
//
// Decide is the reconciliation guard: a pure function of the local entity,
// the incoming entity, the entity's pending change (if any) and the current
// time. Merge applies Decide to a whole batch under the tombstone and
// creation-lock gates. ApplyPending builds the read-only view with in-flight
// edits overlaid.
//
// # Ordering
//
// Updates to the same entity are ordered by version, then by updatedAt,
// then by operation id, never by the arrival order of responses. The guard
// applies these rules in that priority and short-circuits on the first rule
// that decides:
//
//  1. No local entity: accept.
//  2. Both sides carry a version: older rejects, newer accepts, equal accepts
//     only the echo of the pending operation.
//  3. Otherwise, both sides carry updatedAt: older rejects, equal accepts only
//     the pending echo, newer falls through.
//  4. An active pending change rejects any incoming value that reproduces the
//     pre-edit local value of a pending field.
//  5. Accept.
//
// When neither version nor updatedAt can order the two sides and the entity
// has an active pending change, an incoming entity that is not the echo of
// that change is rejected: without an ordering signal a silent overwrite of
// an in-flight edit is never allowed.
//
// The canonical collection holds server-confirmed values only. Pending
// diffs live in the registry and are overlaid by ApplyPending, so the guard
// compares incoming values against the pre-edit state.
package reconcile

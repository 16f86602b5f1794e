// Package registry holds the short-lived, in-memory records that gate how
// server snapshots are folded into local state:
//
//   - PendingRegistry: at most one in-flight local edit per entity
//   - DeletionOverlay: tombstones hiding locally deleted entities
//   - CreationLock: suppression of server rows for not-yet-resolved creations
//
// # Lock Lifetimes
//
// Every record carries a lockUntil instant computed once, at creation, from
// the injected clock. Nothing outside the owning edit can move lockUntil: a
// record is created, then acknowledged, released or left to lapse. A lapsed
// record may still be read with Get, but reports inactive and no longer
// blocks contrary updates (soft expiry). Sweep drops lapsed records.
//
// # Ownership
//
// A Store owns one of each registry for a session and is injected into the
// mutation coordinator and snapshot merger. There are no package-level
// singletons. All methods are safe for concurrent use; each registry guards
// its map with a mutex and never calls out while holding it.
package registry

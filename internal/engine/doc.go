// Package engine ties the registries, the merger, the mutation coordinator
// and the durable cache into a Session: the client-side owner of one
// collection.
//
// A Session holds the canonical collection, the server-confirmed values
// only. Local edits live in the pending registry and are laid over the
// canonical values by View, so consumers never need to ask whether a value
// is optimistic or confirmed.
//
// Data flow:
//
//	Start:   cache --warm start--> canonical --> fetch --> Merge --> canonical
//	Refresh: fetch --> Merge --> canonical --> Snapshot --> subscribers
//	Update:  pending.Add --> remote write --> server echo Merge --> ack
//	Create:  temp entity + creation lock --> remote create --> resolve + rekey
//	Delete:  tombstone + local removal --> remote delete (restore on failure)
//
// Every change to the canonical collection or the pending set publishes a
// Snapshot. Snapshots are delivered in sequence order, either by the Run
// loop or by Flush. When a cache is configured a built-in subscriber
// persists each snapshot's canonical collection under the snapshot's scope.
//
// Concurrency: registry and merge operations are synchronous and never
// yield; remote calls are the only suspension points. The canonical
// collection is guarded by one mutex so merges from concurrent refreshes
// and mutation echoes are serialized. Ordering between responses comes from
// the guard (version, then updatedAt, then opId), never from arrival order.
package engine

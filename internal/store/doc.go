// Package store provides the SQLite-backed durable cache backend.
//
// Entries live in a single cache_entries table keyed by the physical cache
// key ("<scope>/<logical key>"). Timestamps are stored as Unix nanoseconds;
// expires_at = 0 means the entry never expires. The store never interprets
// expiry: TTL evaluation belongs to cache.Cache.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single connection: SQLite has one writer; avoids SQLITE_BUSY
//
// Schema changes are tracked with PRAGMA user_version and applied in order
// on Open.
package store

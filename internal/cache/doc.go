// Package cache is the durable TTL key-value cache used for warm start.
//
// The Cache owns all TTL semantics; a Backend is a dumb byte store that
// records StoredAt and ExpiresAt and never interprets them. Expiry is
// evaluated lazily on read: an expired entry reads as ErrNotFound and is
// deleted on the spot.
//
// Every key lives under a ScopeKey derived from the authenticated identity
// (and tenant), so switching accounts never exposes another identity's
// cached data. Physical backend keys are "<scope>/<logical key>".
//
// Backend failures surface as *Failure. Callers treat them as non-fatal and
// fall back to network-only operation for that cycle.
package cache

// Package model defines the data exchanged between the client engine and the
// server: entities, their field values, and the identity that scopes them.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Field values are a sealed set (Null, String, Int, Float, Bool, Array, Object)
//   - Equality is structural, never by Go interface identity
//   - Hashes use canonical JSON with NFC-normalized strings and domain separation
//   - Entities are data, not objects with behavior: every helper returns a copy
package model

// Package mutation runs the lifecycle of a single optimistic edit:
// register a pending change, call the remote, then acknowledge or roll back.
//
// The coordinator never partially commits. Each Run ends in exactly one of:
//
//   - ack: the remote call succeeded and the stored opId still matched
//   - superseded: the call finished after a newer edit replaced the record,
//     which is left for that newer edit to settle
//   - rollback: the call failed and the record was still ours
//
// Failures come back as a Result carrying a typed *Error; no error or panic
// from the remote call propagates past Run.
package mutation

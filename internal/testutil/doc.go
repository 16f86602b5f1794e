// Package testutil holds fixtures shared by package tests: a fixed start
// time, entity builders, a discarding logger and a remote whose calls can
// be held open to interleave other work with an in-flight request.
package testutil

package reconcile

import (
	"time"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/registry"
)

// Reason names the rule that produced a Decision.
type Reason string

const (
	ReasonFirstSighting         Reason = "first_sighting"
	ReasonNewerVersion          Reason = "newer_version"
	ReasonStaleVersion          Reason = "stale_version"
	ReasonVersionTie            Reason = "version_tie"
	ReasonAckEchoVersion        Reason = "ack_echo_version"
	ReasonStaleTimestamp        Reason = "stale_timestamp"
	ReasonTimestampTie          Reason = "timestamp_tie"
	ReasonAckEchoTimestamp      Reason = "ack_echo_timestamp"
	ReasonAckEcho               Reason = "ack_echo"
	ReasonUnorderedWhilePending Reason = "unordered_while_pending"
	ReasonRegression            Reason = "regression"
	ReasonAccepted              Reason = "accepted"

	// Merge-level outcomes that never reach the guard.
	ReasonTombstoned     Reason = "tombstoned"
	ReasonCreationLocked Reason = "creation_locked"
	ReasonInvalid        Reason = "invalid"
)

// Decision is the guard's verdict for one incoming entity.
type Decision struct {
	Accept bool
	Reason Reason

	// Field is the pending field that regressed (ReasonRegression only).
	Field string
}

func accept(r Reason) Decision { return Decision{Accept: true, Reason: r} }
func reject(r Reason) Decision { return Decision{Reason: r} }

// Decide reports whether incoming may overwrite local.
//
// local is nil when the entity has never been seen. pending is the entity's
// registry record, active or lapsed; a lapsed record only matters for
// recognising an acknowledgment echo by operation id.
func Decide(local *model.Entity, incoming model.Entity, pending *registry.PendingChange, now time.Time) Decision {
	if local == nil {
		return accept(ReasonFirstSighting)
	}

	echo := pending != nil && incoming.OpID != "" && incoming.OpID == pending.OpID
	active := pending != nil && pending.ActiveAt(now)

	ordered := false
	switch {
	case local.HasVersion() && incoming.HasVersion():
		lv, iv := *local.Version, *incoming.Version
		switch {
		case iv < lv:
			return reject(ReasonStaleVersion)
		case iv > lv:
			return accept(ReasonNewerVersion)
		case echo:
			return accept(ReasonAckEchoVersion)
		default:
			return reject(ReasonVersionTie)
		}

	case local.HasUpdatedAt() && incoming.HasUpdatedAt():
		ordered = true
		switch incoming.UpdatedAt.Compare(local.UpdatedAt) {
		case -1:
			return reject(ReasonStaleTimestamp)
		case 0:
			if echo {
				return accept(ReasonAckEchoTimestamp)
			}
			return reject(ReasonTimestampTie)
		}
	}

	if !ordered && active {
		if echo {
			return accept(ReasonAckEcho)
		}
		return reject(ReasonUnorderedWhilePending)
	}

	if active {
		if field, ok := regressedField(local, incoming, pending.Fields); ok {
			return Decision{Reason: ReasonRegression, Field: field}
		}
	}

	return accept(ReasonAccepted)
}

// regressedField returns the first pending field (in key order) whose
// incoming value differs from the pending value but reproduces the local
// pre-edit value. Fields absent from incoming cannot regress.
func regressedField(local *model.Entity, incoming model.Entity, pendingFields model.Fields) (string, bool) {
	for _, name := range pendingFields.SortedKeys() {
		inc, ok := incoming.Field(name)
		if !ok {
			continue
		}
		if model.Equal(inc, pendingFields[name]) {
			continue
		}
		before, _ := local.Field(name)
		if before == nil {
			continue
		}
		if model.Equal(inc, before) {
			return name, true
		}
	}
	return "", false
}

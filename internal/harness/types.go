package harness

import (
	"time"

	"github.com/roach88/optisync/internal/model"
)

// Epoch is the instant scenario offsets are measured from.
var Epoch = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// TraceEvent records one step's outcome and the view after it.
type TraceEvent struct {
	Step   int            `json:"step"`
	At     time.Duration  `json:"at"`
	Op     string         `json:"op"`
	Detail string         `json:"detail"`
	View   []model.Entity `json:"view"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations.
	Errors []string `json:"errors,omitempty"`

	// Final is the view after the last step.
	Final []model.Entity `json:"final"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

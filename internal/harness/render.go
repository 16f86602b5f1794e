package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/reconcile"
)

// Render formats a trace as text, one outcome line per step followed by
// the view after it:
//
//	scenario: <name>
//	[01] +0s refresh -> accepted T1:first_sighting
//	     view T1{"status":"doing"}
func Render(name string, trace []TraceEvent) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, ev := range trace {
		fmt.Fprintf(&b, "[%02d] %s %s\n", ev.Step, formatOffset(ev.At), ev.Detail)
		fmt.Fprintf(&b, "     view %s\n", formatView(ev.View))
	}
	return []byte(b.String())
}

func formatOffset(d time.Duration) string {
	if d < 0 {
		return d.String()
	}
	return "+" + d.String()
}

func formatView(view []model.Entity) string {
	if len(view) == 0 {
		return "(empty)"
	}
	parts := make([]string, 0, len(view))
	for _, e := range view {
		parts = append(parts, e.ID+formatFields(e.Fields))
	}
	return strings.Join(parts, " ")
}

// formatFields renders fields as canonical JSON.
func formatFields(f model.Fields) string {
	if f == nil {
		f = model.Fields{}
	}
	data, err := model.MarshalCanonical(f)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// formatReport summarizes a merge as "accepted ...; rejected ...;
// suppressed ...", omitting empty groups.
func formatReport(r reconcile.MergeReport) string {
	var groups []string
	if s := formatOutcomes(r.Accepted); s != "" {
		groups = append(groups, "accepted "+s)
	}
	if s := formatOutcomes(r.Rejected); s != "" {
		groups = append(groups, "rejected "+s)
	}
	if s := formatOutcomes(r.Suppressed); s != "" {
		groups = append(groups, "suppressed "+s)
	}
	if len(r.Dropped) > 0 {
		groups = append(groups, "dropped "+strings.Join(r.Dropped, ","))
	}
	if len(groups) == 0 {
		return "no change"
	}
	return strings.Join(groups, "; ")
}

func formatOutcomes(outcomes []reconcile.Outcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		s := o.ID + ":" + string(o.Reason)
		if o.Field != "" {
			s += "(" + o.Field + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}

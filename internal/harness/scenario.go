package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/remote"
)

// Scenario is one replayable reconciliation story.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Collection defaults to "tasks".
	Collection string `yaml:"collection,omitempty"`

	// Start is the clock's initial offset. Default: 0s.
	Start string `yaml:"start,omitempty"`

	Locks Locks `yaml:"locks,omitempty"`

	// RefreshDebounce overrides the post-write refresh window.
	RefreshDebounce string `yaml:"refresh_debounce,omitempty"`

	// NextID is the counter the server uses for the next created id.
	NextID int `yaml:"next_id,omitempty"`

	// Server is the initial server state.
	Server []EntitySpec `yaml:"server"`

	Steps []Step `yaml:"steps"`
}

// Locks overrides lock windows. Empty values keep the engine defaults.
type Locks struct {
	Pending   string `yaml:"pending,omitempty"`
	Tombstone string `yaml:"tombstone,omitempty"`
	Creation  string `yaml:"creation,omitempty"`
}

// EntitySpec describes an entity in YAML.
type EntitySpec struct {
	ID        string         `yaml:"id"`
	Fields    map[string]any `yaml:"fields"`
	Version   *int64         `yaml:"version,omitempty"`
	UpdatedAt string         `yaml:"updated_at,omitempty"`
	OpID      string         `yaml:"op_id,omitempty"`
}

// Step is one timed action.
type Step struct {
	// At moves the clock to this offset before the step runs. Empty keeps
	// the current time.
	At string `yaml:"at,omitempty"`

	Op string `yaml:"op"`

	// ID is the target of update and delete.
	ID string `yaml:"id,omitempty"`

	// Fields is the diff for update and the initial fields for create.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Entities is the batch for ingest.
	Entities []EntitySpec `yaml:"entities,omitempty"`

	// Hold keeps the remote call open until a release step.
	Hold bool `yaml:"hold,omitempty"`

	// Target names the held call a release step lets go.
	Target string `yaml:"target,omitempty"`

	// Fail is an error message. On release it replaces the held call's
	// result; on other steps the server fails the call outright.
	Fail string `yaml:"fail,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is checked after the step it is attached to.
type Expect struct {
	// IDs is the exact list of ids in the view.
	IDs []string `yaml:"ids,omitempty"`

	// Fields maps ids to a subset of their expected view fields.
	Fields map[string]map[string]any `yaml:"fields,omitempty"`

	// Absent lists ids that must not be in the view.
	Absent []string `yaml:"absent,omitempty"`

	// Pending is the expected number of active pending changes.
	Pending *int `yaml:"pending,omitempty"`

	// Error is the expected error code of the step, "" for success.
	Error string `yaml:"error,omitempty"`
}

// Step ops.
const (
	OpRefresh = "refresh"
	OpIngest  = "ingest"
	OpUpdate  = "update"
	OpCreate  = "create"
	OpDelete  = "delete"
	OpRelease = "release"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Collection == "" {
		sc.Collection = "tasks"
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, d := range []struct{ name, v string }{
		{"start", sc.Start},
		{"locks.pending", sc.Locks.Pending},
		{"locks.tombstone", sc.Locks.Tombstone},
		{"locks.creation", sc.Locks.Creation},
		{"refresh_debounce", sc.RefreshDebounce},
	} {
		if _, err := offset(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	for i, e := range sc.Server {
		if _, err := e.entity(); err != nil {
			return fmt.Errorf("server[%d]: %w", i, err)
		}
	}

	for i, st := range sc.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	if _, err := offset(st.At); err != nil {
		return fmt.Errorf("at: %w", err)
	}

	switch st.Op {
	case OpRefresh:
	case OpIngest:
		if len(st.Entities) == 0 {
			return fmt.Errorf("entities are required for ingest")
		}
		for i, e := range st.Entities {
			if _, err := e.entity(); err != nil {
				return fmt.Errorf("entities[%d]: %w", i, err)
			}
		}
	case OpUpdate:
		if st.ID == "" {
			return fmt.Errorf("id is required for update")
		}
		if len(st.Fields) == 0 {
			return fmt.Errorf("fields are required for update")
		}
	case OpCreate:
	case OpDelete:
		if st.ID == "" {
			return fmt.Errorf("id is required for delete")
		}
	case OpRelease:
		if _, err := targetOp(st.Target); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}

	if st.Hold && (st.Op == OpIngest || st.Op == OpRelease) {
		return fmt.Errorf("hold is not supported for %s", st.Op)
	}
	if st.Fail != "" && st.Op == OpIngest {
		return fmt.Errorf("fail is not supported for ingest")
	}
	if _, err := fieldsFrom(st.Fields); err != nil {
		return err
	}
	return nil
}

// targetOp maps a release target onto the remote operation it holds.
func targetOp(target string) (remote.Op, error) {
	switch target {
	case "fetch", OpRefresh:
		return remote.OpFetch, nil
	case OpUpdate:
		return remote.OpUpdate, nil
	case OpCreate:
		return remote.OpCreate, nil
	case OpDelete:
		return remote.OpDelete, nil
	}
	return "", fmt.Errorf("unknown release target %q", target)
}

// offset parses a duration relative to the epoch. Empty is zero.
func offset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func (e EntitySpec) entity() (model.Entity, error) {
	if e.ID == "" {
		return model.Entity{}, fmt.Errorf("id is required")
	}
	fields, err := fieldsFrom(e.Fields)
	if err != nil {
		return model.Entity{}, fmt.Errorf("%s: %w", e.ID, err)
	}
	out := model.Entity{ID: e.ID, Fields: fields, OpID: e.OpID}
	if e.Version != nil {
		out.Version = model.VersionPtr(*e.Version)
	}
	if e.UpdatedAt != "" {
		d, err := offset(e.UpdatedAt)
		if err != nil {
			return model.Entity{}, fmt.Errorf("%s: updated_at: %w", e.ID, err)
		}
		out.UpdatedAt = Epoch.Add(d)
	}
	return out, nil
}

func fieldsFrom(in map[string]any) (model.Fields, error) {
	return model.ObjectFromMap(in)
}

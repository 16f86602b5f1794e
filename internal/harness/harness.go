package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/optisync/internal/clock"
	"github.com/roach88/optisync/internal/engine"
	"github.com/roach88/optisync/internal/model"
	"github.com/roach88/optisync/internal/mutation"
	"github.com/roach88/optisync/internal/remote"
	"github.com/roach88/optisync/internal/testutil"
)

// heldTimeout bounds how long the harness waits for a held call to reach
// or leave the gate.
const heldTimeout = 10 * time.Second

// outcome is what a step produced.
type outcome struct {
	detail string
	err    error
}

// Harness runs one scenario.
type Harness struct {
	sc      *Scenario
	clock   *clock.Fake
	server  *remote.Memory
	gate    *testutil.Gated
	session *engine.Session
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// held tracks calls waiting at the gate, oldest first per operation.
	held map[remote.Op][]chan outcome
}

// Run executes sc with a discarding logger.
func Run(sc *Scenario) (*Result, error) {
	return RunWithLogger(sc, slog.New(slog.DiscardHandler))
}

// RunWithLogger executes sc against a fresh server and session.
//
// Expectation failures are collected in the Result; an error is returned
// only when the scenario cannot be executed.
func RunWithLogger(sc *Scenario, logger *slog.Logger) (*Result, error) {
	h, err := newHarness(sc, logger)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, st := range sc.Steps {
		if err := h.advance(st.At); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}

		out, err := h.exec(st)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, st.Op, err)
		}

		view := h.session.View()
		result.Trace = append(result.Trace, TraceEvent{
			Step:   i + 1,
			At:     h.clock.Now().Sub(Epoch),
			Op:     st.Op,
			Detail: out.detail,
			View:   view,
		})

		if st.Expect != nil {
			for _, msg := range h.check(*st.Expect, view, out.err) {
				result.AddError(fmt.Sprintf("step %d (%s): %s", i+1, st.Op, msg))
			}
		}
	}
	result.Final = h.session.View()
	return result, nil
}

func newHarness(sc *Scenario, logger *slog.Logger) (*Harness, error) {
	start, _ := offset(sc.Start)
	clk := clock.NewFake(Epoch.Add(start))

	server := remote.NewMemory(clk)
	if sc.NextID > 0 {
		server.SetNextID(sc.NextID)
	}
	for _, spec := range sc.Server {
		e, err := spec.entity()
		if err != nil {
			return nil, err
		}
		server.Seed(sc.Collection, e)
	}
	gate := testutil.NewGated(server)

	pending, _ := offset(sc.Locks.Pending)
	tombstone, _ := offset(sc.Locks.Tombstone)
	creation, _ := offset(sc.Locks.Creation)
	debounce, _ := offset(sc.RefreshDebounce)

	session, err := engine.New(gate, sc.Collection,
		engine.WithClock(clk),
		engine.WithOpIDs(clock.NewSequentialGenerator("op")),
		engine.WithLogger(logger),
		engine.WithLocks(pending, tombstone, creation),
		engine.WithRefreshDebounce(debounce),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Harness{
		sc:      sc,
		clock:   clk,
		server:  server,
		gate:    gate,
		session: session,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		held:    make(map[remote.Op][]chan outcome),
	}, nil
}

// close abandons held calls and closes the session.
func (h *Harness) close() {
	h.cancel()
	for _, queue := range h.held {
		for _, ch := range queue {
			select {
			case <-ch:
			case <-time.After(heldTimeout):
			}
		}
	}
	if err := h.session.Close(); err != nil {
		h.logger.Warn("close session", "error", err)
	}
}

// advance moves the clock to the step's offset, firing due timers.
func (h *Harness) advance(at string) error {
	if at == "" {
		return nil
	}
	d, err := offset(at)
	if err != nil {
		return err
	}
	target := Epoch.Add(d)
	if target.Before(h.clock.Now()) {
		return fmt.Errorf("at %s is before the current time %s", at, formatOffset(h.clock.Now().Sub(Epoch)))
	}
	h.clock.Set(target)
	return nil
}

func (h *Harness) exec(st Step) (outcome, error) {
	if st.Fail != "" && st.Op != OpRelease {
		op, err := targetOp(st.Op)
		if err != nil {
			return outcome{}, err
		}
		h.server.FailNext(op, errors.New(st.Fail))
	}

	switch st.Op {
	case OpRefresh:
		if st.Hold {
			return h.hold(remote.OpFetch, "refresh (held)", h.refresh)
		}
		return h.refresh(), nil

	case OpIngest:
		batch := make([]model.Entity, 0, len(st.Entities))
		for _, spec := range st.Entities {
			e, err := spec.entity()
			if err != nil {
				return outcome{}, err
			}
			batch = append(batch, e)
		}
		report, err := h.session.Ingest(batch)
		if err != nil {
			return outcome{detail: "-> error " + err.Error(), err: err}, nil
		}
		return outcome{detail: "-> " + formatReport(report)}, nil

	case OpUpdate:
		diff, err := fieldsFrom(st.Fields)
		if err != nil {
			return outcome{}, err
		}
		label := fmt.Sprintf("update %s %s", st.ID, formatFields(diff))
		run := func() outcome { return updateOutcome(st.ID, h.session.Update(h.ctx, st.ID, diff)) }
		if st.Hold {
			return h.hold(remote.OpUpdate, label+" (held)", run)
		}
		o := run()
		o.detail = label + " " + o.detail
		return o, nil

	case OpCreate:
		fields, err := fieldsFrom(st.Fields)
		if err != nil {
			return outcome{}, err
		}
		label := "create " + formatFields(fields)
		run := func() outcome {
			created, err := h.session.Create(h.ctx, fields)
			if err != nil {
				return failed(err)
			}
			return outcome{detail: "-> ok " + created.ID}
		}
		if st.Hold {
			return h.hold(remote.OpCreate, label+" (held)", run)
		}
		o := run()
		o.detail = label + " " + o.detail
		return o, nil

	case OpDelete:
		label := "delete " + st.ID
		run := func() outcome {
			if err := h.session.Delete(h.ctx, st.ID); err != nil {
				return failed(err)
			}
			return outcome{detail: "-> ok"}
		}
		if st.Hold {
			return h.hold(remote.OpDelete, label+" (held)", run)
		}
		o := run()
		o.detail = label + " " + o.detail
		return o, nil

	case OpRelease:
		op, _ := targetOp(st.Target)
		return h.release(op, st.Fail)
	}
	return outcome{}, fmt.Errorf("unknown op %q", st.Op)
}

func (h *Harness) refresh() outcome {
	report, err := h.session.Refresh(h.ctx)
	if err != nil {
		return outcome{detail: "-> error " + err.Error(), err: err}
	}
	return outcome{detail: "-> " + formatReport(report)}
}

// hold arms the gate for op, starts run in the background and waits until
// the call reaches the gate. A call that finishes without reaching the gate
// is reported as if it had not been held.
func (h *Harness) hold(op remote.Op, label string, run func() outcome) (outcome, error) {
	h.gate.Hold(op)
	done := make(chan outcome, 1)
	go func() { done <- run() }()

	select {
	case <-h.gate.Entered():
		h.held[op] = append(h.held[op], done)
		return outcome{detail: label}, nil
	case o := <-done:
		h.gate.Unhold(op)
		return o, nil
	case <-time.After(heldTimeout):
		return outcome{}, fmt.Errorf("%s call never reached the gate", op)
	}
}

// release lets the oldest held call of op return and waits for its outcome.
func (h *Harness) release(op remote.Op, fail string) (outcome, error) {
	queue := h.held[op]
	if len(queue) == 0 {
		return outcome{}, fmt.Errorf("no held %s call to release", op)
	}
	done := queue[0]
	h.held[op] = queue[1:]

	var err error
	if fail != "" {
		err = errors.New(fail)
	}
	h.gate.Release(op, err)

	select {
	case o := <-done:
		o.detail = fmt.Sprintf("release %s %s", op, o.detail)
		return o, nil
	case <-time.After(heldTimeout):
		return outcome{}, fmt.Errorf("held %s call did not return", op)
	}
}

func updateOutcome(id string, res mutation.Result) outcome {
	if res.Err != nil {
		o := failed(res.Err)
		if res.Superseded {
			o.detail += " superseded"
		}
		return o
	}
	detail := fmt.Sprintf("-> ok %s op=%s", id, res.OpID)
	if res.Superseded {
		detail += " superseded"
	}
	return outcome{detail: detail}
}

func failed(err error) outcome {
	var me *mutation.Error
	if errors.As(err, &me) {
		return outcome{detail: "-> failed " + string(me.Code), err: err}
	}
	return outcome{detail: "-> failed " + err.Error(), err: err}
}

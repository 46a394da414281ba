// Package engine implements the dispatch pipeline that ties an
// ActionRegistry, a PolicySet, and a Chronicle together: normalize an
// incoming Action, look up and invoke its handler, append it to history,
// evaluate enabled policies, and broadcast the outcome on the event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
)

// Mode selects how Dispatch is driven.
type Mode int

const (
	// Sync runs Dispatch on the caller's goroutine and blocks until the
	// handler, history append, and policy evaluation are complete.
	Sync Mode = iota
	// Async runs every Dispatch on a single background worker goroutine so
	// actions apply one at a time regardless of how many callers dispatch
	// concurrently; Dispatch still blocks its caller for the result, but
	// callers are serialized against each other by the worker, not by a
	// shared lock each one fights over.
	Async
)

// ActionResult is the payload of "engine:action": what ran and what came
// back.
type ActionResult struct {
	Action action.Action
	Result any
	Err    error
}

// Engine wires the action pipeline together. It implements action.Context
// so handlers can emit events through the Chronicle's bus.
type Engine struct {
	chron    *chronicle.Chronicle
	registry *action.Registry
	policies *action.PolicySet
	mode     Mode

	mu      sync.Mutex
	history []action.Action

	jobs chan dispatchJob
	once sync.Once
}

type dispatchJob struct {
	action action.Action
	result chan dispatchOutcome
}

type dispatchOutcome struct {
	value any
	err   error
}

// New creates an Engine bound to chron, dispatching through registry and
// evaluating policies. mode selects whether Dispatch runs synchronously or
// is serialized through a background worker.
func New(chron *chronicle.Chronicle, registry *action.Registry, policies *action.PolicySet, mode Mode) *Engine {
	e := &Engine{
		chron:    chron,
		registry: registry,
		policies: policies,
		mode:     mode,
	}
	if mode == Async {
		e.jobs = make(chan dispatchJob, 64)
		go e.runWorker()
	}
	return e
}

// Emit implements action.Context, publishing payload on topic through the
// underlying Chronicle's event bus.
func (e *Engine) Emit(topic string, payload any) {
	e.chron.Events().Emit(topic, payload)
}

// History returns a copy of every action applied so far, oldest first.
func (e *Engine) History() []action.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]action.Action, len(e.history))
	copy(out, e.history)
	return out
}

// Dispatch normalizes a, looks up its handler, runs it, records it in
// history, and evaluates policies, in that order. In Async mode the work
// still happens on the background worker goroutine; Dispatch blocks the
// caller until it completes.
func (e *Engine) Dispatch(a action.Action) (any, error) {
	if e.mode == Async {
		return e.dispatchAsync(a)
	}
	return e.dispatchSync(a)
}

// DispatchCtx is Dispatch with cancellation: in Async mode, ctx.Done()
// unblocks the caller (the queued job still runs to completion on the
// worker; only this caller's wait is abandoned).
func (e *Engine) DispatchCtx(ctx context.Context, a action.Action) (any, error) {
	if e.mode != Async {
		return e.dispatchSync(a)
	}

	normalized := action.Normalize(a)
	job := dispatchJob{action: normalized, result: make(chan dispatchOutcome, 1)}

	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-job.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) dispatchAsync(a action.Action) (any, error) {
	return e.DispatchCtx(context.Background(), a)
}

func (e *Engine) runWorker() {
	for job := range e.jobs {
		value, err := e.dispatchSync(job.action)
		job.result <- dispatchOutcome{value: value, err: err}
	}
}

func (e *Engine) dispatchSync(a action.Action) (any, error) {
	normalized := action.Normalize(a)

	handler, err := e.registry.Lookup(normalized.Type)
	if err != nil {
		e.Emit("engine:action", ActionResult{Action: normalized, Err: err})
		return nil, err
	}

	result, err := e.invoke(handler, normalized)

	e.mu.Lock()
	e.history = append(e.history, normalized)
	e.mu.Unlock()

	e.policies.Evaluate(e, &normalized, func(ev action.PolicyErrorEvent) {
		slog.Error("policy evaluation failed", "policy", ev.Policy, "error", ev.Err)
		e.Emit("policy:error", ev)
	})

	e.Emit("engine:action", ActionResult{Action: normalized, Result: result, Err: err})
	return result, err
}

func (e *Engine) invoke(handler action.Handler, a action.Action) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %q: handler panic: %v", a.Type, r)
		}
	}()
	return handler(e, a.Payload)
}

// Snapshot captures everything needed to restore an Engine's bookkeeping
// (history and fired-policy state) without touching the Chronicle
// document itself, which is snapshotted separately via Chronicle.Save.
type Snapshot struct {
	History []action.Action
	Fired   map[string]bool
}

// Snapshot returns the Engine's current bookkeeping state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	history := make([]action.Action, len(e.history))
	copy(history, e.history)
	e.mu.Unlock()

	return Snapshot{History: history, Fired: e.policies.FiredSnapshot()}
}

// Restore replaces the Engine's history and reapplies fired-policy state
// from a previously captured Snapshot.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	e.history = append([]action.Action{}, snap.History...)
	e.mu.Unlock()
	e.policies.ApplyFiredSnapshot(snap.Fired)
}

// ErrNotRunningAsync is returned by Close when the Engine was constructed
// in Sync mode, which has no worker goroutine to stop.
var ErrNotRunningAsync = errors.New("engine: not running in async mode")

// Close stops the background worker started for Async mode. It is safe to
// call more than once. A Sync engine returns ErrNotRunningAsync.
func (e *Engine) Close() error {
	if e.mode != Async {
		return ErrNotRunningAsync
	}
	e.once.Do(func() { close(e.jobs) })
	return nil
}

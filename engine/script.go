package engine

import (
	"context"
	"time"

	"github.com/rakunlabs/chronicle/action"
)

// Step is one entry in a Script: an Action to dispatch, optionally
// preceded by a delay.
type Step struct {
	Action action.Action
	Delay  time.Duration
}

// Script is an ordered sequence of Actions an Agent delegate may return
// instead of a single Action, per the think(engine) contract.
type Script struct {
	Steps []Step
}

// AbortToken lets a caller stop a running Script between steps. It is
// safe for concurrent use; Abort may be called from any goroutine.
type AbortToken struct {
	ch chan struct{}
}

// NewAbortToken creates a token that has not yet been aborted.
func NewAbortToken() *AbortToken {
	return &AbortToken{ch: make(chan struct{})}
}

// Abort signals the token. Safe to call more than once.
func (t *AbortToken) Abort() {
	select {
	case <-t.ch:
	default:
		close(t.ch)
	}
}

// Aborted reports whether Abort has been called.
func (t *AbortToken) Aborted() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// StepResult records the outcome of one dispatched step.
type StepResult struct {
	Action action.Action
	Result any
	Err    error
}

// RunScript dispatches each step of s in order, waiting Step.Delay before
// each dispatch. It stops early — without dispatching the remaining steps
// — the moment abort is aborted or a step's handler returns an error.
// Pass a nil abort to run to completion or first error.
func (e *Engine) RunScript(ctx context.Context, s Script, abort *AbortToken) []StepResult {
	results := make([]StepResult, 0, len(s.Steps))

	for _, step := range s.Steps {
		if abort != nil && abort.Aborted() {
			return results
		}
		if err := ctx.Err(); err != nil {
			return results
		}

		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return results
			}
		}

		if abort != nil && abort.Aborted() {
			return results
		}

		value, err := e.DispatchCtx(ctx, step.Action)
		results = append(results, StepResult{Action: step.Action, Result: value, Err: err})
		if err != nil {
			return results
		}
	}

	return results
}

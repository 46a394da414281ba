// Package worker hosts an off-thread mirror Engine addressed by
// message-passing frames, per the Worker executor design: the main
// thread is never blocked on a worker frame, and no shared mutable
// memory is assumed — every value crossing the boundary is the same
// JSON-normalized form Chronicle stores.
package worker

import (
	"context"
	"time"

	"github.com/rakunlabs/chronicle/action"
	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/engine"
)

// FrameType namespaces a Frame the way an Action's type does.
type FrameType string

const (
	FrameInit        FrameType = "init"
	FrameInitOK      FrameType = "init:ok"
	FrameInitErr     FrameType = "init:err"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
	FrameDispatch    FrameType = "dispatch"
	FrameDispatchOK  FrameType = "dispatch:ok"
	FrameDispatchErr FrameType = "dispatch:err"
	FrameEvent       FrameType = "event"
	FrameShutdown    FrameType = "shutdown"
)

// Frame is the unit exchanged between the main side and the Worker,
// correlated by RequestID.
type Frame struct {
	Type      FrameType
	RequestID string
	// Snapshot carries a serialized Chronicle envelope (FrameInit).
	Snapshot []byte
	// Action carries a dispatch request (FrameDispatch).
	Action action.Action
	// Result carries a dispatch result (FrameDispatchOK) or a pushed
	// domain event's payload (FrameEvent).
	Result any
	// Err carries an error message (FrameInitErr, FrameDispatchErr).
	Err string
	// At carries a round-trip timestamp in unix-nano (FramePong).
	At int64
}

// Worker hosts a mirror Engine: its own Chronicle, wired to the same
// ActionRegistry and PolicySet shape the main side uses, initialized from
// a snapshot sent over In. Run processes frames from In and publishes
// responses and pushed events on Out until a shutdown frame arrives or
// ctx is cancelled.
type Worker struct {
	registry *action.Registry
	policies *action.PolicySet

	chron *chronicle.Chronicle
	eng   *engine.Engine

	In  chan Frame
	Out chan Frame
}

// New creates a Worker that will dispatch through registry and evaluate
// policies, once initialized with a snapshot.
func New(registry *action.Registry, policies *action.PolicySet) *Worker {
	return &Worker{
		registry: registry,
		policies: policies,
		In:       make(chan Frame, 32),
		Out:      make(chan Frame, 32),
	}
}

// Run drives the Worker's frame loop. Call it in its own goroutine; it
// returns when ctx is cancelled or a shutdown frame is processed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-w.In:
			if !ok {
				return
			}
			if w.handle(ctx, frame) {
				return
			}
		}
	}
}

// handle processes one frame and reports whether the loop should stop.
func (w *Worker) handle(ctx context.Context, frame Frame) (stop bool) {
	switch frame.Type {
	case FrameInit:
		w.chron = chronicle.New("worker", nil)
		if len(frame.Snapshot) > 0 {
			if err := w.chron.Load(frame.Snapshot); err != nil {
				w.Out <- Frame{Type: FrameInitErr, RequestID: frame.RequestID, Err: err.Error()}
				return false
			}
		}
		w.eng = engine.New(w.chron, w.registry, w.policies, engine.Sync)
		w.chron.Events().On("*", func(payload any) {
			w.Out <- Frame{Type: FrameEvent, Result: payload}
		})
		w.Out <- Frame{Type: FrameInitOK, RequestID: frame.RequestID}

	case FramePing:
		w.Out <- Frame{Type: FramePong, RequestID: frame.RequestID, At: time.Now().UnixNano()}

	case FrameDispatch:
		if w.eng == nil {
			w.Out <- Frame{Type: FrameDispatchErr, RequestID: frame.RequestID, Err: "worker: dispatch before init"}
			return false
		}
		result, err := w.eng.DispatchCtx(ctx, frame.Action)
		if err != nil {
			w.Out <- Frame{Type: FrameDispatchErr, RequestID: frame.RequestID, Err: err.Error()}
			return false
		}
		w.Out <- Frame{Type: FrameDispatchOK, RequestID: frame.RequestID, Result: result}

	case FrameShutdown:
		return true
	}
	return false
}

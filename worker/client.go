package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/chronicle/action"
)

// ErrTimedOut is returned by Dispatch/Ping when the worker does not
// respond within the caller's deadline. The underlying request is not
// cancelled — the worker's eventual response frame is simply discarded
// when it arrives, since the caller has already moved on.
var ErrTimedOut = errors.New("worker: request timed out")

// Client is the main-thread side of the Worker protocol: it owns request
// correlation, the one-in-flight-per-request-id backpressure rule
// (enforced by queuing every call behind Init completing), an optional
// dispatch-coalescing window, and timeout-based response discarding.
type Client struct {
	w *Worker

	batchWindow time.Duration

	mu       sync.Mutex
	pending  map[string]chan Frame
	events   []func(Frame)
	initOnce sync.Once
	initDone chan struct{}
	initErr  error

	batchMu    sync.Mutex
	batchQueue []batchedDispatch
	batchTimer *time.Timer
}

type batchedDispatch struct {
	requestID string
	action    action.Action
}

// NewClient creates a Client driving w. batchWindow, if positive, makes
// Dispatch buffer every call arriving within that window and send them
// together when it closes, in arrival order and one frame per action; a
// non-positive batchWindow dispatches immediately.
func NewClient(w *Worker, batchWindow time.Duration) *Client {
	c := &Client{
		w:           w,
		batchWindow: batchWindow,
		pending:     make(map[string]chan Frame),
		initDone:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for frame := range c.w.Out {
		if frame.Type == FrameEvent {
			c.mu.Lock()
			handlers := append([]func(Frame){}, c.events...)
			c.mu.Unlock()
			for _, h := range handlers {
				h(frame)
			}
			continue
		}

		if frame.Type == FrameInitOK || frame.Type == FrameInitErr {
			if frame.Type == FrameInitErr {
				c.initErr = errors.New(frame.Err)
			}
			close(c.initDone)
		}

		c.mu.Lock()
		ch, ok := c.pending[frame.RequestID]
		if ok {
			delete(c.pending, frame.RequestID)
		}
		c.mu.Unlock()

		if ok {
			ch <- frame
		}
		// If no pending entry exists, the caller already timed out and
		// moved on; the response is discarded here.
	}
}

// OnEvent registers a handler for every FrameEvent pushed by the worker
// (the domain events its mirror Chronicle emits).
func (c *Client) OnEvent(handler func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, handler)
}

// Init sends the initial snapshot to the worker and waits for init:ok.
// Every Dispatch/Ping call queues behind Init completing.
func (c *Client) Init(ctx context.Context, snapshot []byte) error {
	reqID := ulid.Make().String()
	reply := c.register(reqID)
	c.w.In <- Frame{Type: FrameInit, RequestID: reqID, Snapshot: snapshot}

	select {
	case frame := <-reply:
		if frame.Type == FrameInitErr {
			return fmt.Errorf("worker: init failed: %s", frame.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) register(reqID string) chan Frame {
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

// waitForInit blocks until Init's response has arrived, enforcing the
// "queue until init:ok" backpressure rule.
func (c *Client) waitForInit(ctx context.Context) error {
	select {
	case <-c.initDone:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping measures a round trip to the worker and back.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if err := c.waitForInit(ctx); err != nil {
		return 0, err
	}

	reqID := ulid.Make().String()
	reply := c.register(reqID)
	start := time.Now()
	c.w.In <- Frame{Type: FramePing, RequestID: reqID}

	select {
	case <-reply:
		return time.Since(start), nil
	case <-ctx.Done():
		c.unregister(reqID)
		return 0, ErrTimedOut
	}
}

// Dispatch sends a to the worker and waits for its result, queuing behind
// Init and (if a batch window is configured) coalescing with other calls
// made within that window. ctx's deadline governs how long the caller
// waits; on expiry Dispatch returns ErrTimedOut and the worker's eventual
// response, if any, is discarded.
func (c *Client) Dispatch(ctx context.Context, a action.Action) (any, error) {
	if err := c.waitForInit(ctx); err != nil {
		return nil, err
	}

	normalized := action.Normalize(a)
	reply := c.register(normalized.ID)

	if c.batchWindow > 0 {
		c.enqueueBatched(normalized)
	} else {
		c.w.In <- Frame{Type: FrameDispatch, RequestID: normalized.ID, Action: normalized}
	}

	select {
	case frame := <-reply:
		if frame.Type == FrameDispatchErr {
			return nil, errors.New(frame.Err)
		}
		return frame.Result, nil
	case <-ctx.Done():
		c.unregister(normalized.ID)
		return nil, ErrTimedOut
	}
}

// enqueueBatched buffers a dispatch for batchWindow, then flushes every
// buffered dispatch as individual frames in arrival order -- the worker
// still sees one frame per action (ordering is what the window
// preserves), but callers racing within the window share one timer
// instead of each starting their own.
func (c *Client) enqueueBatched(a action.Action) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	c.batchQueue = append(c.batchQueue, batchedDispatch{requestID: a.ID, action: a})
	if c.batchTimer == nil {
		c.batchTimer = time.AfterFunc(c.batchWindow, c.flushBatch)
	}
}

func (c *Client) flushBatch() {
	c.batchMu.Lock()
	queued := c.batchQueue
	c.batchQueue = nil
	c.batchTimer = nil
	c.batchMu.Unlock()

	for _, d := range queued {
		c.w.In <- Frame{Type: FrameDispatch, RequestID: d.requestID, Action: d.action}
	}
}

// Shutdown tells the worker to stop its frame loop.
func (c *Client) Shutdown() {
	c.w.In <- Frame{Type: FrameShutdown}
}

// Package chronicle implements the CRDT document at the core of the engine:
// a last-writer-wins replicated map keyed by top-level subtree (stack,
// zones, source, agents, rules, plus whatever the embedder adds), with
// change scopes, binary/textual persistence, and a change-event feed.
//
// Per-key LWW was chosen over a full op-based log because
// every domain object in this system (Stack, Space, Source, Agent) owns a
// disjoint top-level key and rewrites its entire subtree on every mutation;
// two peers only race on the *same* key when they mutate the *same* domain
// object concurrently, and last-writer-wins is the documented resolution
// for that case (spec DATA MODEL, Chronicle document invariant).
package chronicle

import (
	"sync"

	"github.com/rakunlabs/chronicle/eventbus"
)

// ChangedEvent is the payload of a "state:changed" emission.
type ChangedEvent struct {
	Source string // "local" or a peer id
	Label  string // caller-supplied description of the change, may be empty
}

// Draft is the mutable view of the document handed to a Change mutator. It
// operates on a private copy; nothing is visible to other goroutines, and
// nothing commits, until the mutator returns without error.
type Draft struct {
	data map[string]any
}

// Get returns the current value stored at key and whether it was present.
func (d *Draft) Get(key string) (any, bool) {
	v, ok := d.data[key]
	return v, ok
}

// Set replaces the value stored at key with value (a plain JSON-shaped
// value: map[string]any, []any, string, float64/int, bool, or nil).
func (d *Draft) Set(key string, value any) {
	d.data[key] = value
}

// Delete removes key entirely.
func (d *Draft) Delete(key string) {
	delete(d.data, key)
}

// Chronicle is a single replica's handle on the CRDT document.
type Chronicle struct {
	mu     sync.RWMutex
	nodeID string
	data   map[string]any
	clocks map[string]HLC
	clock  *Clock
	bus    *eventbus.Bus
}

// New creates a Chronicle for nodeID. If initial is non-nil, its keys are
// recorded as a single bootstrap change (emits "state:changed" once, with
// source "local" and label "bootstrap").
func New(nodeID string, initial map[string]any) *Chronicle {
	c := &Chronicle{
		nodeID: nodeID,
		data:   make(map[string]any),
		clocks: make(map[string]HLC),
		clock:  NewClock(nodeID),
		bus:    eventbus.New(),
	}

	if len(initial) > 0 {
		ts := c.clock.Tick()
		for k, v := range initial {
			c.data[k] = cloneJSONValue(v)
			c.clocks[k] = ts
		}
		c.bus.Emit("state:changed", ChangedEvent{Source: "local", Label: "bootstrap"})
	}

	return c
}

// Events returns the bus domain objects and ConsensusCore subscribe to.
func (c *Chronicle) Events() *eventbus.Bus {
	return c.bus
}

// NodeID returns this replica's identifier, used as the HLC tie-break and
// as the "source" tag ConsensusCore excludes from re-broadcast.
func (c *Chronicle) NodeID() string {
	return c.nodeID
}

// State returns a deep-copied snapshot of the current document and its
// per-key clocks, suitable for persistence or for handing to another
// Chronicle's Merge.
func (c *Chronicle) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{Data: c.data, Clocks: c.clocks}.Clone()
}

// View returns a deep copy of the current document, read-only by
// convention (mutating the returned map has no effect on the Chronicle).
func (c *Chronicle) View() map[string]any {
	return c.State().Data
}

// Change opens a mutation scope: mutator receives a Draft holding a private
// copy of the document, makes whatever edits it needs, and returns. If it
// returns an error the draft is discarded and the document is untouched. On
// success, every top-level key whose value changed gets a fresh HLC tick and
// "state:changed" is emitted exactly once with source "local".
func (c *Chronicle) Change(label string, mutator func(*Draft) error) error {
	c.mu.Lock()
	before := make(map[string]any, len(c.data))
	for k, v := range c.data {
		before[k] = v
	}
	draft := &Draft{data: cloneJSONValue(before).(map[string]any)}
	c.mu.Unlock()

	if err := mutator(draft); err != nil {
		return err
	}

	c.mu.Lock()
	changedKeys := diffKeys(before, draft.data)
	if len(changedKeys) == 0 {
		c.mu.Unlock()
		return nil
	}
	ts := c.clock.Tick()
	for _, k := range changedKeys {
		v, ok := draft.data[k]
		if !ok {
			delete(c.data, k)
			delete(c.clocks, k)
			continue
		}
		c.data[k] = v
		c.clocks[k] = ts
	}
	c.mu.Unlock()

	c.bus.Emit("state:changed", ChangedEvent{Source: "local", Label: label})
	return nil
}

// Update replaces the document wholesale with newState and emits
// "state:changed" tagged with source. This is how ConsensusCore installs
// the result of applying a remote sync frame: the new state was already
// computed (merged) externally, so Update just swaps it in and notifies.
func (c *Chronicle) Update(newState State, source string) {
	cloned := newState.Clone()

	c.mu.Lock()
	c.data = cloned.Data
	c.clocks = cloned.Clocks
	for _, ts := range cloned.Clocks {
		c.clock.Observe(ts)
	}
	c.mu.Unlock()

	c.bus.Emit("state:changed", ChangedEvent{Source: source})
}

// Merge performs an op-level (here: per-key LWW) merge of otherState into
// this Chronicle's state, in place. The result is commutative, associative
// and idempotent in otherState: applying the same or an older state twice
// is a no-op the second time. Emits "state:changed" with source "local"
// only if the merge actually changed something.
func (c *Chronicle) Merge(otherState State) {
	c.mu.Lock()

	changed := false
	for k, remoteTS := range otherState.Clocks {
		localTS, haveLocal := c.clocks[k]
		if !haveLocal || remoteTS.After(localTS) {
			c.data[k] = cloneJSONValue(otherState.Data[k])
			c.clocks[k] = remoteTS
			c.clock.Observe(remoteTS)
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.bus.Emit("state:changed", ChangedEvent{Source: "local", Label: "merge"})
	}
}

// diffKeys returns the set of top-level keys present in before or after
// whose values differ (by JSON-shape deep-equality), in a deterministic
// order.
func diffKeys(before, after map[string]any) []string {
	var changed []string
	seen := make(map[string]bool, len(before)+len(after))

	for k := range before {
		seen[k] = true
	}
	for k := range after {
		seen[k] = true
	}

	for k := range seen {
		bv, bok := before[k]
		av, aok := after[k]
		if bok != aok || !jsonValueEqual(bv, av) {
			changed = append(changed, k)
		}
	}
	return changed
}

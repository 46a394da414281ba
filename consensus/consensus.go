// Package consensus implements ConsensusCore: the component that keeps
// peers' Chronicle documents converged by exchanging full-state sync
// frames over a transport.Transport, merging last-writer-wins, and
// re-broadcasting only what each peer hasn't already seen.
package consensus

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/rakunlabs/chronicle/chronicle"
	"github.com/rakunlabs/chronicle/transport"
	"github.com/worldline-go/hardloop"
)

const topicSyncUpdate = "sync:update"

// BadFrameEvent is emitted on "consensus:badframe" when an inbound frame
// cannot be decoded into a Chronicle state.
type BadFrameEvent struct {
	PeerID string
	Reason string
}

// ConsensusCore subscribes to one Chronicle's change feed and one
// Transport's inbound frames, and keeps the two in sync: every local (or
// newly merged) change is broadcast to peers that haven't seen it, and
// every inbound frame is merged in and, only if it changed anything,
// re-broadcast onward.
type ConsensusCore struct {
	chron *chronicle.Chronicle
	tr    transport.Transport

	mu      sync.Mutex
	seq     uint64
	cursors map[string]uint64 // peerID -> highest seq received from that peer

	cron   cronRunner
	cancel context.CancelFunc
}

// cronRunner is satisfied by hardloop's unexported *cronJob type (returned by
// hardloop.NewCron), so it can be stored without naming the type directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// New creates a ConsensusCore wiring chron to tr. It subscribes
// immediately; call Close to unsubscribe (e.g. on shutdown).
func New(chron *chronicle.Chronicle, tr transport.Transport) *ConsensusCore {
	c := &ConsensusCore{chron: chron, tr: tr, cursors: make(map[string]uint64)}

	chron.Events().On("state:changed", func(payload any) {
		ev, ok := payload.(chronicle.ChangedEvent)
		if !ok {
			return
		}
		c.broadcast(ev.Source)
	})

	tr.On(topicSyncUpdate, c.handleSyncUpdate)
	tr.On("net:peer-left", func(peerID string, _ transport.Frame) {
		c.mu.Lock()
		delete(c.cursors, peerID)
		c.mu.Unlock()
	})
	tr.On("net:peer-joined", func(peerID string, _ transport.Frame) {
		c.sendTo(peerID)
	})

	return c
}

// sendTo pushes the full current state to a single peer, used when a new
// peer joins after state has already changed locally.
func (c *ConsensusCore) sendTo(peerID string) {
	state := c.chron.State()
	encoded, err := encodeFramePayload(state)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.tr.Send(peerID, transport.Frame{
		Type: topicSyncUpdate,
		Payload: map[string]any{
			"state": encoded,
			"seq":   float64(seq),
		},
	}) //nolint:errcheck
}

// broadcast sends the current state to every peer, except the one that
// originated the change being broadcast (source-tagged broadcast rule):
// a change with source "local" goes to every peer; a change merged in
// from peer P goes to every peer except P, so the peer that already has
// it doesn't receive its own update echoed back.
func (c *ConsensusCore) broadcast(source string) {
	state := c.chron.State()
	encoded, err := encodeFramePayload(state)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	frame := transport.Frame{
		Type: topicSyncUpdate,
		Payload: map[string]any{
			"state": encoded,
			"seq":   float64(seq),
		},
	}

	for _, peerID := range c.tr.Peers() {
		if source != "local" && peerID == source {
			continue
		}
		c.tr.Send(peerID, frame) //nolint:errcheck
	}
}

// StartHeartbeat runs a periodic full-state resend to every peer on the
// given cron schedule (standard five-field cron syntax), self-healing any
// sync:update frame a peer missed (a dropped UDP broadcast under Relay,
// say) without waiting for the next local change to trigger a broadcast.
// It mirrors the trigger-driven cron runner workflow schedulers use,
// adapted to a single always-on job instead of one job per trigger.
func (c *ConsensusCore) StartHeartbeat(ctx context.Context, cronSpec string) error {
	job, err := hardloop.NewCron(hardloop.Cron{
		Name:  "consensus-heartbeat",
		Specs: []string{cronSpec},
		Func:  c.heartbeatTick,
	})
	if err != nil {
		return fmt.Errorf("consensus: create heartbeat cron: %w", err)
	}

	hctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cron = job
	c.cancel = cancel
	c.mu.Unlock()

	if err := job.Start(hctx); err != nil {
		cancel()
		return fmt.Errorf("consensus: start heartbeat cron: %w", err)
	}
	return nil
}

// StopHeartbeat stops a heartbeat started with StartHeartbeat. It is a
// no-op if none is running.
func (c *ConsensusCore) StopHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *ConsensusCore) heartbeatTick(ctx context.Context) error {
	for _, peerID := range c.tr.Peers() {
		c.sendTo(peerID)
	}
	return nil
}

func (c *ConsensusCore) handleSyncUpdate(peerID string, frame transport.Frame) {
	seqVal, ok := frame.Payload["seq"].(float64)
	if !ok {
		c.chron.Events().Emit("consensus:badframe", BadFrameEvent{PeerID: peerID, Reason: "missing seq"})
		return
	}
	seq := uint64(seqVal)

	c.mu.Lock()
	if seq != 0 && seq <= c.cursors[peerID] {
		c.mu.Unlock()
		return
	}
	c.cursors[peerID] = seq
	c.mu.Unlock()

	encoded, ok := frame.Payload["state"].(string)
	if !ok {
		c.chron.Events().Emit("consensus:badframe", BadFrameEvent{PeerID: peerID, Reason: "missing state"})
		return
	}
	remote, err := decodeFramePayload(encoded)
	if err != nil {
		c.chron.Events().Emit("consensus:badframe", BadFrameEvent{PeerID: peerID, Reason: err.Error()})
		return
	}

	local := c.chron.State()
	merged := mergeStates(local, remote)
	if merged.Equal(local) {
		return
	}

	c.chron.Update(merged, peerID)
}

// mergeStates computes the last-writer-wins union of local and remote
// without mutating either, mirroring Chronicle.Merge's per-key comparison
// so ConsensusCore can compute the result before committing it via
// Chronicle.Update (which tags the commit with the originating peer,
// something Merge itself cannot do since it always tags "local").
func mergeStates(local, remote chronicle.State) chronicle.State {
	out := chronicle.State{
		Data:   make(map[string]any, len(local.Data)),
		Clocks: make(map[string]chronicle.HLC, len(local.Clocks)),
	}
	for k, v := range local.Data {
		out.Data[k] = v
	}
	for k, ts := range local.Clocks {
		out.Clocks[k] = ts
	}

	for k, remoteTS := range remote.Clocks {
		localTS, haveLocal := out.Clocks[k]
		if !haveLocal || remoteTS.After(localTS) {
			out.Data[k] = remote.Data[k]
			out.Clocks[k] = remoteTS
		}
	}
	return out
}

func encodeFramePayload(s chronicle.State) (string, error) {
	b, err := chronicle.EncodeState(s)
	if err != nil {
		return "", fmt.Errorf("consensus: encode state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodeFramePayload(encoded string) (chronicle.State, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return chronicle.State{}, fmt.Errorf("consensus: decode base64: %w", err)
	}
	s, err := chronicle.DecodeState(b)
	if err != nil {
		return chronicle.State{}, fmt.Errorf("consensus: decode state: %w", err)
	}
	return s, nil
}

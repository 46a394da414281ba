package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DataChannel is the minimal surface a WebRTC data channel implementation
// must provide; no WebRTC library is part of this module's dependency
// set, so callers plug in their own (e.g. pion/webrtc) behind this
// interface. Send/Receive carry already-framed bytes (a marshaled Frame).
type DataChannel interface {
	Send(data []byte) error
	OnMessage(func(data []byte))
	Close() error
}

// DataChannelDialer opens a DataChannel to peerID once signaling (offer/
// answer/ICE candidate exchange, relayed as "webrtc:*" frames) completes.
type DataChannelDialer func(peerID string, signal json.RawMessage) (DataChannel, error)

// WebRTC upgrades peer-to-peer traffic from a signaling Relay onto direct
// DataChannels, falling back to the Relay for any peer that hasn't (or
// can't) establish one. It implements Transport itself, so a ConsensusCore
// built against Transport never needs to know which path a given peer
// uses.
type WebRTC struct {
	signaling *Relay
	dial      DataChannelDialer

	mu       sync.RWMutex
	channels map[string]DataChannel
}

// NewWebRTC wraps signaling (typically a Relay already Start-ed) with an
// upgrade path. dial is invoked once per peer the first time Send targets
// it; a nil dial disables upgrades and WebRTC behaves as a thin pass-
// through to signaling.
func NewWebRTC(signaling *Relay, dial DataChannelDialer) *WebRTC {
	w := &WebRTC{signaling: signaling, dial: dial, channels: make(map[string]DataChannel)}
	signaling.On("webrtc:signal", w.handleSignal)
	return w
}

// PeerID implements Transport.
func (w *WebRTC) PeerID() string { return w.signaling.PeerID() }

// Peers implements Transport.
func (w *WebRTC) Peers() []string { return w.signaling.Peers() }

// On implements Transport by registering handler on the signaling Relay
// for every topic, "webrtc:signal" included (whose frames also drive the
// upgrade handshake).
func (w *WebRTC) On(topic string, handler Handler) {
	w.signaling.On(topic, handler)
}

// Send delivers frame directly over peerID's DataChannel if one is
// established, otherwise falls back to the signaling Relay (which also
// carries the handshake needed to establish one).
func (w *WebRTC) Send(peerID string, frame Frame) error {
	w.mu.RLock()
	ch, ok := w.channels[peerID]
	w.mu.RUnlock()
	if !ok && w.dial != nil && peerID != "" {
		w.mu.Lock()
		if _, raced := w.channels[peerID]; !raced {
			if newCh, err := w.dial(peerID, nil); err == nil {
				w.channels[peerID] = newCh
				ch = newCh
				ok = true
			}
		} else {
			ch, ok = w.channels[peerID], true
		}
		w.mu.Unlock()
	}

	if ok && ch != nil {
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("transport: marshal frame: %w", err)
		}
		return ch.Send(data)
	}

	return w.signaling.Send(peerID, frame)
}

func (w *WebRTC) handleSignal(peerID string, frame Frame) {
	if w.dial == nil {
		return
	}
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		return
	}
	ch, err := w.dial(peerID, raw)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.channels[peerID] = ch
	w.mu.Unlock()
}

// Close tears down every established DataChannel.
func (w *WebRTC) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for id, ch := range w.channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.channels, id)
	}
	return firstErr
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rakunlabs/alan"
)

// Relay implements Transport over alan's UDP peer discovery broadcast
// channel, the same dependency internal/cluster wraps for distributed
// coordination. alan has no targeted unicast primitive in this pack, so
// Relay broadcasts every frame and lets peers discard anything not
// addressed to them (Frame.To == "" still means "every peer").
type Relay struct {
	peerID string
	alan   *alan.Alan

	mu       sync.RWMutex
	handlers map[string][]Handler

	sendTimeout time.Duration
}

// NewRelay wraps an already-configured alan instance. peerID is this
// node's own identity, used as Frame.From and to discard frames addressed
// to other peers.
func NewRelay(peerID string, cfg alan.Config) (*Relay, error) {
	a, err := alan.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: create alan instance: %w", err)
	}
	return &Relay{
		peerID:      peerID,
		alan:        a,
		handlers:    make(map[string][]Handler),
		sendTimeout: 5 * time.Second,
	}, nil
}

// Start begins peer discovery and frame dispatch in the background; it
// blocks until ctx is cancelled, so run it in a goroutine.
func (r *Relay) Start(ctx context.Context) error {
	r.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("transport: peer joined", "addr", addr.String())
		r.dispatch("net:peer-joined", Frame{Type: "net:peer-joined", From: addr.String()})
	})
	r.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("transport: peer left", "addr", addr.String())
		r.dispatch("net:peer-left", Frame{Type: "net:peer-left", From: addr.String()})
	})

	return r.alan.Start(ctx, func(_ context.Context, msg alan.Message) {
		var frame Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			slog.Warn("transport: malformed frame", "from", msg.Addr, "error", err)
			r.dispatch("net:badframe", Frame{Type: "net:badframe", From: msg.Addr.String()})
			return
		}
		if frame.To != "" && frame.To != r.peerID {
			return
		}
		r.dispatch(frame.Type, frame)
		if msg.IsRequest() {
			r.alan.Reply(msg, []byte("ok")) //nolint:errcheck
		}
	})
}

// Stop leaves the peer-discovery channel.
func (r *Relay) Stop() error {
	return r.alan.Stop()
}

// Ready returns a channel closed once peer discovery is up.
func (r *Relay) Ready() <-chan struct{} {
	return r.alan.Ready()
}

// PeerID implements Transport.
func (r *Relay) PeerID() string { return r.peerID }

// Peers implements Transport, reporting alan's discovered peer addresses.
func (r *Relay) Peers() []string {
	peers := r.alan.Peers()
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, fmt.Sprint(p))
	}
	return out
}

// On implements Transport.
func (r *Relay) On(topic string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], handler)
}

// Send implements Transport, broadcasting frame to every peer (alan has
// no unicast primitive); frame.To still governs which peer's Relay.On
// handlers accept it.
func (r *Relay) Send(peerID string, frame Frame) error {
	frame.From = r.peerID
	frame.To = peerID

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	_, err = r.alan.SendAndWaitReply(ctx, data)
	if err != nil {
		return fmt.Errorf("transport: send frame: %w", err)
	}
	return nil
}

func (r *Relay) dispatch(topic string, frame Frame) {
	r.mu.RLock()
	handlers := append(append([]Handler{}, r.handlers[topic]...), r.handlers["*"]...)
	r.mu.RUnlock()

	for _, h := range handlers {
		h(frame.From, frame)
	}
}

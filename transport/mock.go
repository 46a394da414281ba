package transport

import "sync"

// Mock is an in-process Transport for tests: Link two or more Mocks
// together and Send delivers synchronously to every linked peer's
// handlers, with no network involved. This is the "mock transport" the
// echo-prevention and convergence scenarios exercise ConsensusCore
// against.
type Mock struct {
	id string

	mu       sync.RWMutex
	handlers map[string][]Handler
	peers    map[string]*Mock
}

// NewMock creates a Mock transport identified by id.
func NewMock(id string) *Mock {
	return &Mock{id: id, handlers: make(map[string][]Handler), peers: make(map[string]*Mock)}
}

// Link connects a and b bidirectionally so each can Send to the
// other's PeerID.
func Link(a, b *Mock) {
	a.mu.Lock()
	a.peers[b.id] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peers[a.id] = a
	b.mu.Unlock()
}

// Unlink disconnects a and b, simulating a peer disconnect.
func Unlink(a, b *Mock) {
	a.mu.Lock()
	delete(a.peers, b.id)
	a.mu.Unlock()
	b.mu.Lock()
	delete(b.peers, a.id)
	b.mu.Unlock()
}

// PeerID implements Transport.
func (m *Mock) PeerID() string { return m.id }

// Peers implements Transport.
func (m *Mock) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}

// On implements Transport.
func (m *Mock) On(topic string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], handler)
}

// Send implements Transport: if peerID is empty, frame is delivered to
// every linked peer; otherwise to that one peer only. Delivery is
// synchronous, so Send returns after every handler has run.
func (m *Mock) Send(peerID string, frame Frame) error {
	frame.From = m.id
	frame.To = peerID

	m.mu.RLock()
	var targets []*Mock
	if peerID == "" {
		for _, p := range m.peers {
			targets = append(targets, p)
		}
	} else if p, ok := m.peers[peerID]; ok {
		targets = append(targets, p)
	}
	m.mu.RUnlock()

	for _, t := range targets {
		t.deliver(frame)
	}
	return nil
}

// Trigger manually delivers a synthetic frame as if it arrived from
// fromPeerID, without requiring an actual Send — used by tests to
// simulate transport-level events like "net:peer-left" that Mock itself
// does not generate automatically.
func (m *Mock) Trigger(topic, fromPeerID string, frame Frame) {
	frame.Type = topic
	frame.From = fromPeerID
	m.deliver(frame)
}

func (m *Mock) deliver(frame Frame) {
	m.mu.RLock()
	handlers := append(append([]Handler{}, m.handlers[frame.Type]...), m.handlers["*"]...)
	m.mu.RUnlock()
	for _, h := range handlers {
		h(frame.From, frame)
	}
}

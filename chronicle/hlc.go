package chronicle

import (
	"fmt"
	"sync"
	"time"
)

// HLC is a hybrid logical clock timestamp: wall-clock milliseconds, a
// logical tie-breaking counter, and the originating node id. It gives
// Chronicle's per-key last-writer-wins merge a deterministic total order
// even when two peers commit in the same millisecond.
type HLC struct {
	Wall    int64  `json:"w"`
	Logical uint32 `json:"l"`
	NodeID  string `json:"n"`
}

// After reports whether h happened strictly after other in the HLC total
// order: wall time first, then logical counter, then node id as a final,
// arbitrary but consistent tie-break so every replica agrees.
func (h HLC) After(other HLC) bool {
	if h.Wall != other.Wall {
		return h.Wall > other.Wall
	}
	if h.Logical != other.Logical {
		return h.Logical > other.Logical
	}
	return h.NodeID > other.NodeID
}

func (h HLC) String() string {
	return fmt.Sprintf("%d.%d@%s", h.Wall, h.Logical, h.NodeID)
}

// Clock generates monotonically increasing HLC values for one node and
// folds in timestamps observed from remote peers so causality is preserved
// across merges.
type Clock struct {
	mu     sync.Mutex
	nodeID string
	latest HLC
}

// NewClock creates a Clock for nodeID.
func NewClock(nodeID string) *Clock {
	return &Clock{nodeID: nodeID}
}

// Tick produces the next local HLC timestamp.
func (c *Clock) Tick() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := time.Now().UnixMilli()
	if wall <= c.latest.Wall {
		c.latest = HLC{Wall: c.latest.Wall, Logical: c.latest.Logical + 1, NodeID: c.nodeID}
	} else {
		c.latest = HLC{Wall: wall, Logical: 0, NodeID: c.nodeID}
	}
	return c.latest
}

// Observe folds a timestamp received from a remote peer into the local
// clock so future local ticks stay causally ahead of anything seen so far.
func (c *Clock) Observe(remote HLC) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.After(c.latest) {
		c.latest = HLC{Wall: remote.Wall, Logical: remote.Logical, NodeID: c.nodeID}
	}
}

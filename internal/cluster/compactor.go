package cluster

import (
	"context"
	"fmt"

	"github.com/rakunlabs/chronicle/stack"
)

// Compactor reclaims every named Stack's discard pile back onto its live
// pile each time Run is called (it schedules no runs of its own), guarded
// by a distributed lock so only one replica
// in the mesh performs the reclaim at a time (every replica already has
// the same state once ConsensusCore converges, so a concurrent reclaim on
// two peers would just be redundant work, not a correctness problem, but
// the lock keeps the work from being duplicated across the whole mesh on
// every run).
type Compactor struct {
	cluster *Cluster
	stacks  map[string]*stack.Stack
	nodeID  string
}

// NewCompactor creates a Compactor over stacks. cluster may be nil (no
// clustering configured), in which case Run reclaims locally without
// coordinating with any peer.
func NewCompactor(cluster *Cluster, nodeID string, stacks map[string]*stack.Stack) *Compactor {
	return &Compactor{cluster: cluster, stacks: stacks, nodeID: nodeID}
}

// Run reclaims every stack's discard pile once, returning how many
// discard entries were removed in total. If a Cluster is configured, it
// acquires the compaction lock first and broadcasts the result after.
func (c *Compactor) Run(ctx context.Context) (int, error) {
	if c.cluster != nil {
		if err := c.cluster.LockCompaction(ctx); err != nil {
			return 0, fmt.Errorf("cluster: acquire compaction lock: %w", err)
		}
		defer c.cluster.UnlockCompaction() //nolint:errcheck
	}

	removed := 0
	for _, s := range c.stacks {
		removed += len(s.Discards())
		if err := s.ReclaimDiscards(); err != nil {
			return removed, fmt.Errorf("cluster: reclaim discards: %w", err)
		}
	}

	if c.cluster != nil && removed > 0 {
		if err := c.cluster.BroadcastCompacted(ctx, c.nodeID, removed); err != nil {
			return removed, fmt.Errorf("cluster: broadcast compaction: %w", err)
		}
	}

	return removed, nil
}

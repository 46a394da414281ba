// Package cluster provides distributed coordination across Chronicle
// replicas using the alan UDP peer discovery library: a leader-election
// lock so only one peer at a time runs snapshot compaction, and a
// broadcast so the rest of the mesh learns compaction completed without
// waiting for the next ConsensusCore sync frame.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rakunlabs/alan"
)

const (
	// lockCompaction is the distributed lock name guarding snapshot
	// compaction, so only one replica prunes discard piles at a time.
	lockCompaction = "chronicle-compaction"

	// msgTypeCompacted identifies a compaction-complete broadcast.
	msgTypeCompacted = "compacted"
)

// clusterMessage is the JSON envelope for messages sent between peers.
type clusterMessage struct {
	Type string `json:"type"`
	// NodeID is the replica that performed the compaction.
	NodeID string `json:"nodeId,omitempty"`
	// RemovedDiscards is how many discard-pile entries compaction dropped.
	RemovedDiscards int `json:"removedDiscards,omitempty"`
}

// Cluster wraps an alan instance with Chronicle-specific distributed
// coordination.
type Cluster struct {
	alan *alan.Alan
}

// New creates a Cluster from an alan configuration. Returns nil, nil if
// cfg is nil (clustering disabled, e.g. single-process tests).
func New(cfg *alan.Config) (*Cluster, error) {
	if cfg == nil {
		return nil, nil
	}

	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("create alan instance: %w", err)
	}

	return &Cluster{alan: a}, nil
}

// Start begins peer discovery in the background. onCompacted is invoked
// when this instance receives a compaction-complete broadcast from
// another peer, with the peer's node id and how many discard entries it
// removed. Start blocks until ctx is cancelled; run it in a goroutine.
func (c *Cluster) Start(ctx context.Context, onCompacted func(nodeID string, removedDiscards int)) error {
	c.alan.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("cluster peer joined", "addr", addr.String())
	})

	c.alan.OnPeerLeave(func(addr *net.UDPAddr) {
		slog.Info("cluster peer left", "addr", addr.String())
	})

	handler := func(_ context.Context, msg alan.Message) {
		var cm clusterMessage
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			slog.Warn("cluster: invalid message", "from", msg.Addr, "error", err)
			return
		}

		switch cm.Type {
		case msgTypeCompacted:
			slog.Info("cluster: peer reported compaction", "from", msg.Addr, "node", cm.NodeID, "removed", cm.RemovedDiscards)

			if onCompacted != nil {
				onCompacted(cm.NodeID, cm.RemovedDiscards)
			}

			if msg.IsRequest() {
				c.alan.Reply(msg, []byte("ok")) //nolint:errcheck
			}

		default:
			slog.Debug("cluster: unknown message type", "type", cm.Type, "from", msg.Addr)
		}
	}

	return c.alan.Start(ctx, handler)
}

// Stop gracefully leaves the cluster.
func (c *Cluster) Stop() error {
	return c.alan.Stop()
}

// LockCompaction acquires the distributed lock guarding compaction.
// Blocks until the lock is acquired or ctx is cancelled.
func (c *Cluster) LockCompaction(ctx context.Context) error {
	return c.alan.Lock(ctx, lockCompaction)
}

// UnlockCompaction releases the distributed compaction lock.
func (c *Cluster) UnlockCompaction() error {
	return c.alan.Unlock(lockCompaction)
}

// BroadcastCompacted tells every peer that nodeID just compacted its
// discard piles, dropping removedDiscards entries, and waits for their
// acknowledgements.
func (c *Cluster) BroadcastCompacted(ctx context.Context, nodeID string, removedDiscards int) error {
	peers := c.alan.Peers()
	if len(peers) == 0 {
		slog.Info("cluster: no peers to notify of compaction")
		return nil
	}

	cm := clusterMessage{
		Type:            msgTypeCompacted,
		NodeID:          nodeID,
		RemovedDiscards: removedDiscards,
	}

	data, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("marshal cluster message: %w", err)
	}

	broadcastCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	replies, err := c.alan.SendAndWaitReply(broadcastCtx, data)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("broadcast compaction: %w", err)
	}

	slog.Info("cluster: compaction broadcast complete", "peers", len(peers), "acks", len(replies))

	if len(replies) < len(peers) {
		slog.Warn("cluster: not all peers acknowledged compaction", "expected", len(peers), "received", len(replies))
	}

	return nil
}

// Ready returns a channel that is closed when the cluster is ready.
func (c *Cluster) Ready() <-chan struct{} {
	return c.alan.Ready()
}

package core

import (
	"context"
	"fmt"
	"time"

	nhbstate "magink/core/state"
)

// Height returns the current block height.
func (n *Node) Height() uint64 {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.height
}

// AdvanceBlocks moves the chain forward by count blocks and persists the new
// height. It returns the resulting height.
func (n *Node) AdvanceBlocks(count uint64) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	next := n.height + count
	if next < n.height {
		return n.height, fmt.Errorf("node: height overflow")
	}
	manager := nhbstate.NewManager(n.db)
	if err := manager.SetHeight(next); err != nil {
		return n.height, err
	}
	if err := manager.Commit(); err != nil {
		return n.height, fmt.Errorf("node: persist height: %w", err)
	}
	n.height = next
	n.metrics.SetHeight(next)
	return next, nil
}

// RunBlockProducer advances the height by one block every interval until ctx
// is cancelled.
func (n *Node) RunBlockProducer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("node: block interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			height, err := n.AdvanceBlocks(1)
			if err != nil {
				n.logger.Error("advance block", "error", err)
				continue
			}
			n.logger.Debug("block produced", "height", height)
		}
	}
}

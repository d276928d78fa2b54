package consolidate

import (
	"context"
	"time"

	"github.com/engramhq/engram/internal/database"
)

// Trigger asks the background loop to run a pass now. Ack, when non-nil,
// receives the completed record (or nil on failure) so callers can block
// for completion, cancellation stays explicit instead of implied.
type Trigger struct {
	Reason string
	Ack    chan *database.ConsolidationRecord
}

// Run drives the consolidation loop until ctx is cancelled: a ticker
// evaluates the elapsed-time + accumulated-write heuristic, and triggers
// arriving on ch force a pass regardless of the heuristic.
func (c *Consolidator) Run(ctx context.Context, ch <-chan Trigger) {
	ticker := time.NewTicker(c.checkInterval())
	defer ticker.Stop()

	log.Info("consolidation loop started",
		"min_interval", c.Config.MinInterval,
		"write_threshold", c.Config.WriteThreshold)

	for {
		select {
		case <-ctx.Done():
			log.Info("consolidation loop stopped")
			return

		case trig := <-ch:
			log.Info("consolidation triggered", "reason", trig.Reason)
			rec, err := c.Pass()
			if err != nil {
				log.Error("triggered consolidation pass failed", "error", err)
				rec = nil
			}
			if trig.Ack != nil {
				trig.Ack <- rec
			}

		case <-ticker.C:
			if !c.Due(c.Now()) {
				continue
			}
			if _, err := c.Pass(); err != nil {
				log.Error("scheduled consolidation pass failed", "error", err)
			}
		}
	}
}

// checkInterval is how often the loop re-evaluates the heuristic; a small
// fraction of MinInterval, floored so tests with tiny intervals still tick.
func (c *Consolidator) checkInterval() time.Duration {
	interval := c.Config.MinInterval / 12
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

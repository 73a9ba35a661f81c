package coordinator

import (
	"context"
	"time"
)

// RunSweeper periodically recovers jobs the happy path lost: claimed or
// processing rows whose lease expired go back to queued, and queued rows
// whose enqueue notification was lost are re-announced. Safe to run on
// several processes at once since every transition is conditional.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.LeaseDuration)

	reclaimed, err := c.ledger.ReclaimExpired(ctx, cutoff)
	if err != nil {
		c.logger.Error("reclaim expired leases failed", "err", err)
	}
	for _, id := range reclaimed {
		c.logger.Warn("lease expired, job reclaimed", "job_id", id)
		c.reannounce(ctx, id)
	}

	stale, err := c.ledger.StaleQueued(ctx, cutoff)
	if err != nil {
		c.logger.Error("list stale queued jobs failed", "err", err)
	}
	for _, id := range stale {
		c.logger.Warn("queued job went unannounced, re-publishing", "job_id", id)
		c.reannounce(ctx, id)
	}
}

func (c *Coordinator) reannounce(ctx context.Context, id string) {
	j, err := c.ledger.Get(ctx, id)
	if err != nil {
		c.logger.Error("load reclaimed job failed", "job_id", id, "err", err)
		return
	}
	if err := c.announce(ctx, j.ID, j.Operation); err != nil {
		c.logger.Error("re-announce failed", "job_id", id, "err", err)
	}
}

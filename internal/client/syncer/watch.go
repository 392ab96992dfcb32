package syncer

import (
	"context"
	"time"
)

const (
	pingTimeout          = 3 * time.Second
	DefaultCheckInterval = 3 * time.Second
)

// Watch pings the remote every interval until ctx is done. Every successful
// ping drains the pending queues. A non-positive interval means
// DefaultCheckInterval.
func (c *Coordinator) Watch(ctx context.Context, interval time.Duration) {
	if c.remote == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.Probe(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Probe pings the remote once and, when it answers, drains every identity
// with queued tasks. Tasks that keep failing while the remote is reachable
// are retried on each probe until they reach MaxAttempts.
func (c *Coordinator) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.remote.Ping(pctx)
	cancel()

	if err != nil {
		c.setOnline(false)
		c.log.Debug(ctx, "remote ping failed", "error", err)
		return
	}

	c.setOnline(true)
	if err := c.DrainAll(ctx); err != nil {
		c.log.Warn(ctx, "drain after probe failed", "error", err)
	}
}

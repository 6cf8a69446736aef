package linking

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mixtape-labs/fmbot/telemetry"
)

// StartPurgeJob launches a goroutine that periodically deletes expired pending
// links. Expiry is still enforced lazily at claim time; the sweep only keeps
// the table from growing without bound.
func StartPurgeJob(ctx context.Context, store PendingLinkStore, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			now := time.Now()
			purged, err := store.PurgeExpired(ctx, now)
			if err != nil {
				slog.Warn("pending link purge failed", slog.Any("err", err), slog.String("component", "link_purge"))
			} else if purged > 0 {
				if telemetry.PendingLinksPurged != nil {
					telemetry.PendingLinksPurged.Add(float64(purged))
				}
				slog.Info("purged expired pending links", slog.Int64("count", purged), slog.String("component", "link_purge"))
			}
			if n, err := store.CountActive(ctx, now); err == nil {
				telemetry.SetPendingLinks(n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

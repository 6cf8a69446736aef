package twitchauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mixtape-labs/fmbot/db"
)

// StartRefresher launches a goroutine that periodically checks the stored
// chat credential and refreshes it when its remaining lifetime falls within
// the window. Wakeups are jittered so multiple instances don't stampede.
func (s *Service) StartRefresher(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			_, refresh, expiry, _, err := db.GetOAuthToken(ctx, s.db, s.enc, Provider)
			if err != nil || refresh == "" {
				continue
			}
			if time.Until(expiry) > window {
				continue
			}
			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			_, _, _, err = s.Refresh(ctx2, refresh)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", Provider), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("provider", Provider))
		}
	}()
}

package util

import (
	"context"
	"time"
)

// RunPeriodically calls fn every interval until ctx is done. The first call
// happens one interval after start.
func RunPeriodically(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

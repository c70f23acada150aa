package engine

import (
	"context"
	"time"
)

// RunRetention trims r to keepLast records every interval until ctx is done.
func RunRetention(ctx context.Context, r *Registry, keepLast int, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup(keepLast)
		}
	}
}

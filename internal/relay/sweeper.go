package relay

import (
	"context"
	"log"
	"time"
)

// StartSweeper launches a background goroutine that marks idle connections
// offline every interval. It stops when ctx is cancelled. A non-positive
// interval disables sweeping.
func StartSweeper(ctx context.Context, r *Router, interval, timeout time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r.Sweep(r.now(), timeout) && r.debug {
					log.Printf("[sweeper] presence changed, list rebroadcast")
				}
			}
		}
	}()
}

package main

import (
	"context"
	"log"
	"time"
)

// RunMetrics logs session-count stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, h *hub, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := h.sessionsSnapshot()
			if len(sessions) > 0 {
				log.Printf("[metrics] sessions=%d", len(sessions))
			}
		}
	}
}

package ws

import (
	"context"
	"time"

	"github.com/ommvpatel/Real-Time-Taskboard/registry"
)

// DefaultHeartbeatInterval matches the liveness sweep of the original server.
const DefaultHeartbeatInterval = 30 * time.Second

// RunHeartbeat pings every registered connection at the given interval so
// the transport layer notices dead sockets and the read loop reaps them.
// Pings are fire-and-forget; failures surface as read errors on the
// connection's own loop.
func RunHeartbeat(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range reg.All() {
				_ = conn.Ping()
			}
		}
	}
}

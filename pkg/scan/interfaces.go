package scan

import (
	"context"
	"time"
)

// Result is one host's reachability outcome.
type Result struct {
	Host      string
	Available bool
	RespTime  time.Duration
	LastSeen  time.Time
}

// Scanner performs a fast reachability sweep over candidate hosts. Discovery
// uses it to avoid spending HTTP probes on dead addresses; it is optional and
// a nil Scanner means every address gets probed directly.
type Scanner interface {
	// Scan sweeps the hosts and returns results through the channel.
	Scan(ctx context.Context, hosts []string) (<-chan Result, error)
	// Stop gracefully stops any ongoing sweep.
	Stop() error
}

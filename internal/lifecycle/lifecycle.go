package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64 // unix nanos of the first BeginShutdown, 0 when running
)

// BeginShutdown marks the process as draining. Returns true only for the call that
// flipped the flag, so a second signal does not start a second shutdown.
// Health returns 503 shutting-down from then on.
func BeginShutdown() bool {
	if !shuttingDown.CompareAndSwap(false, true) {
		return false
	}
	startedAt.Store(time.Now().UnixNano())
	return true
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// ShutdownStartedAt returns when draining began, or the zero time while running.
func ShutdownStartedAt() time.Time {
	n := startedAt.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Reset clears the shutdown flag. For tests only.
func Reset() {
	shuttingDown.Store(false)
	startedAt.Store(0)
}

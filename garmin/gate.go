package garmin

import (
	"context"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds how long a data request will wait for an
// interactive login to complete.
const DefaultWaitTimeout = 5 * time.Minute

// Gate bridges the interactive login surface and concurrent data requests
// that discover mid-flight they are unauthenticated. Wait suspends the
// caller until Notify broadcasts; every goroutine blocked at that moment
// is released by a single Notify. A Notify with no waiters is dropped,
// never queued for a future waiter. The gate carries no information about
// what succeeded; it is a pure coordination signal.
type Gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait blocks until Notify is called, the timeout elapses, or ctx is
// cancelled. A timeout of zero or less uses DefaultWaitTimeout. Timing
// out returns ErrGateTimeout so callers can report "login did not
// complete in time" rather than hanging.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrGateTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify releases every goroutine currently blocked in Wait. The channel
// is closed to broadcast and immediately replaced, so later waiters block
// on a fresh channel rather than seeing a stale signal.
func (g *Gate) Notify() {
	g.mu.Lock()
	close(g.ch)
	g.ch = make(chan struct{})
	g.mu.Unlock()
}

package worker

import (
	"context"
	"time"
)

// withGrace returns a context that ignores parent cancellation for up to grace.
// Once parent is done the returned context is cancelled after grace elapses.
// A non-positive grace detaches the context for as long as the caller holds it.
func withGrace(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	if grace <= 0 {
		return ctx, cancel
	}
	stop := context.AfterFunc(parent, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

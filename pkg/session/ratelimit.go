package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "quackcore/internal/errors"
	"quackcore/internal/observability/metrics"
)

// RateConfig bounds the number of calls a plugin may dispatch per window.
// A zero MaxCalls disables limiting.
type RateConfig struct {
	Window   time.Duration
	MaxCalls int
}

// RateBudget is the process-wide call quota for one plugin, shared across
// all callers. The budget is decremented on dispatch, not on success, since
// the remote quota is consumed regardless of outcome.
type RateBudget struct {
	mu        sync.Mutex
	plugin    string
	window    time.Duration
	maxCalls  int
	remaining int
	resetAt   time.Time
}

func newRateBudget(plugin string, cfg RateConfig) *RateBudget {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateBudget{plugin: plugin, window: cfg.Window, maxCalls: cfg.MaxCalls}
}

// Acquire consumes one call from the budget. When the budget is exhausted
// it either fails immediately with RateLimited or, if wait is set, blocks
// until the window resets, bounded by the caller's context.
func (b *RateBudget) Acquire(ctx context.Context, wait bool, now func() time.Time) error {
	if b == nil || b.maxCalls <= 0 {
		return nil
	}
	for {
		b.mu.Lock()
		current := now()
		if !current.Before(b.resetAt) {
			b.remaining = b.maxCalls
			b.resetAt = current.Add(b.window)
		}
		if b.remaining > 0 {
			b.remaining--
			b.mu.Unlock()
			return nil
		}
		resetAt := b.resetAt
		b.mu.Unlock()

		metrics.ObserveRateLimited(b.plugin)
		if !wait {
			return xerrors.New(xerrors.CodeRateLimited,
				fmt.Sprintf("rate budget for %s exhausted until %s", b.plugin, resetAt.Format(time.RFC3339)))
		}

		timer := time.NewTimer(resetAt.Sub(current))
		select {
		case <-ctx.Done():
			timer.Stop()
			return xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("timed out waiting for rate window of %s", b.plugin))
		case <-timer.C:
		}
	}
}

// Snapshot returns the remaining calls and the next window reset for
// diagnostics.
func (b *RateBudget) Snapshot() (remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.resetAt
}

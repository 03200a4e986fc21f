// Package await holds the bounded polling primitives every stage
// waits with. Nothing in the pipeline blocks without a deadline.
package await

import (
	"context"
	"math/rand/v2"
	"time"
)

// Until polls cond until it returns true, the window elapses, or ctx
// is done.
func Until(ctx context.Context, window, interval time.Duration, cond func() bool) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.Now().Add(window)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// Sleep pauses for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Pause sleeps a uniform random duration in [min, max], the pacing
// jitter between browser actions.
func Pause(ctx context.Context, min, max time.Duration) {
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int64N(int64(span)))
	}
	Sleep(ctx, d)
}

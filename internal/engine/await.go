package engine

import (
	"context"
	"time"

	"github.com/applypilot/applypilot/internal/await"
)

// Await polls cond until it returns true, the window elapses, or ctx
// is done. Every wait in the resolver goes through here so nothing
// blocks past its deadline.
func Await(ctx context.Context, window, interval time.Duration, cond func() bool) bool {
	return await.Until(ctx, window, interval, cond)
}

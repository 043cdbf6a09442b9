package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrElementNotVisible is returned when a click target has no visible
// bounds.
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// RandomDuration returns a random duration in [minMs, maxMs] milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// SleepWithContext sleeps for d or until the context is canceled. Reports
// whether the full duration elapsed.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

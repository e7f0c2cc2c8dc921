package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Exponential 指数退避 + 0~20% 抖动，attempt 从 0 开始
func Exponential(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base << attempt
	if d <= 0 || d > max {
		d = max
	}
	if j := int64(d / 5); j > 0 {
		d -= time.Duration(rand.Int63n(j)) / 2
	}
	return d
}

// Sleep waits d or until ctx is done; false means ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

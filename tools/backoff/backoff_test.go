package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBounds(t *testing.T) {
	base, max := 100*time.Millisecond, 2*time.Second
	prevCeil := time.Duration(0)
	for attempt := 0; attempt < 40; attempt++ {
		d := Exponential(attempt, base, max)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
		ceil := base << attempt
		if ceil > max || ceil <= 0 {
			ceil = max
		}
		assert.GreaterOrEqual(t, d, ceil*9/10)
		assert.GreaterOrEqual(t, ceil, prevCeil)
		prevCeil = ceil
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, time.Hour))
	assert.True(t, Sleep(context.Background(), time.Millisecond))
}

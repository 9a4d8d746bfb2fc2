//go:build unit

package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{"attempt 0 returns base", 100 * time.Millisecond, 0, 100 * time.Millisecond},
		{"attempt 3 is 8x base", 100 * time.Millisecond, 3, 800 * time.Millisecond},
		{"negative attempt treated as 0", 100 * time.Millisecond, -5, 100 * time.Millisecond},
		{"zero base", 0, 4, 0},
		{"saturates", time.Hour, 62, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitterStaysInRange(t *testing.T) {
	t.Parallel()

	assert.Zero(t, FullJitter(0))
	assert.Zero(t, FullJitter(-time.Second))

	for i := 0; i < 100; i++ {
		d := FullJitter(time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestCappedRespectsCeiling(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 40; attempt++ {
		assert.Less(t, Capped(time.Second, 30*time.Second, attempt), 30*time.Second)
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	assert.NoError(t, SleepWithContext(context.Background(), 0))
	assert.NoError(t, SleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, SleepWithContext(ctx, time.Hour), context.Canceled)
}

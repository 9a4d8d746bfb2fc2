//go:build unit

package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{
			name: "every five minutes",
			expr: "*/5 * * * *",
			from: time.Date(2026, 1, 15, 10, 3, 0, 0, time.UTC),
			want: time.Date(2026, 1, 15, 10, 5, 0, 0, time.UTC),
		},
		{
			name: "strictly after an exact match",
			expr: "*/5 * * * *",
			from: time.Date(2026, 1, 15, 10, 5, 0, 0, time.UTC),
			want: time.Date(2026, 1, 15, 10, 10, 0, 0, time.UTC),
		},
		{
			name: "daily midnight rolls to next day",
			expr: "@daily",
			from: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
			want: time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "list and range",
			expr: "15,45 9-17 * * 1-5",
			from: time.Date(2026, 1, 16, 17, 50, 0, 0, time.UTC), // Friday
			want: time.Date(2026, 1, 19, 9, 15, 0, 0, time.UTC),  // Monday
		},
		{
			name: "offset step",
			expr: "5/20 * * * *",
			from: time.Date(2026, 1, 15, 10, 26, 0, 0, time.UTC),
			want: time.Date(2026, 1, 15, 10, 45, 0, 0, time.UTC),
		},
		{
			name: "monthly crosses year",
			expr: "@monthly",
			from: time.Date(2026, 12, 2, 0, 0, 0, 0, time.UTC),
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "leap day",
			expr: "0 12 29 2 *",
			from: time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "non-utc input is normalized",
			expr: "0 * * * *",
			from: time.Date(2026, 1, 15, 10, 30, 0, 0, time.FixedZone("BRT", -3*3600)),
			want: time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sched, err := Parse(tt.expr)
			require.NoError(t, err)

			got, err := sched.Next(tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextImpossibleDate(t *testing.T) {
	t.Parallel()

	sched, err := Parse("0 0 31 2 *")
	require.NoError(t, err)

	_, err = sched.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1-b * * * *",
		"@yearly",
	} {
		_, err := Parse(expr)
		assert.ErrorIs(t, err, ErrInvalidExpression, expr)
	}
}

func TestScheduleString(t *testing.T) {
	t.Parallel()

	sched, err := Parse("  */5 * * * *  ")
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", sched.String())
}

// nearMinute keeps the clock 10ms before a minute boundary so every
// "* * * * *" slot is 10ms away.
func nearMinute() time.Time {
	return time.Date(2026, 1, 15, 10, 0, 59, 990_000_000, time.UTC)
}

func TestSchedulerRunsJobUntilStopped(t *testing.T) {
	sched, err := Parse("* * * * *")
	require.NoError(t, err)

	var runs atomic.Int32

	s, err := NewScheduler("audit", sched, func(context.Context) error {
		if runs.Add(1) == 2 {
			return errors.New("transient")
		}

		return nil
	}, WithClock(nearMinute), WithLogger(log.NewNop()))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- s.Run(nil) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.RunContext(context.Background()), ErrSchedulerRunning)

	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerSurvivesPanickingJob(t *testing.T) {
	sched, err := Parse("* * * * *")
	require.NoError(t, err)

	var runs atomic.Int32

	s, err := NewScheduler("audit", sched, func(context.Context) error {
		runs.Add(1)
		panic("boom")
	}, WithClock(nearMinute))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.RunContext(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestSchedulerStopsWhenScheduleNeverMatches(t *testing.T) {
	sched, err := Parse("0 0 31 2 *")
	require.NoError(t, err)

	s, err := NewScheduler("never", sched, func(context.Context) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, s.RunContext(context.Background()), ErrNoMatch)
}

func TestNewSchedulerValidates(t *testing.T) {
	sched, err := Parse("@hourly")
	require.NoError(t, err)

	_, err = NewScheduler("x", nil, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNilSchedule)

	_, err = NewScheduler("x", sched, nil)
	assert.ErrorIs(t, err, ErrNilJob)
}

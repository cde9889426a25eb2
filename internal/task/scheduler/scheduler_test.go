package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "pushalert/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "every minute", raw: "* * * * *", kind: SpecCron, source: "cron"},
		{name: "with seconds", raw: "0 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 1m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:*/1 * * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "1m", kind: SpecInterval, source: "duration", duration: time.Minute},
		{name: "prefixed interval", raw: "interval:90s", kind: SpecInterval, source: "duration", duration: 90 * time.Second},
		{name: "hhmm", raw: "00:01", kind: SpecInterval, source: "hhmm", duration: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
			}
			_, err = got.Schedule()
			assert.NoError(t, err)
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "-1m", "00:75"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
	p, err := ParseSchedule("61 * * * *")
	require.NoError(t, err, "heuristic parse should accept")
	_, err = p.Schedule()
	assert.Error(t, err, "invalid cron field")
}

func TestEveryMinuteScheduleFiresOnMinuteBoundary(t *testing.T) {
	t.Parallel()
	p, _ := ParseSchedule(DefaultSpec)
	sched, err := p.Schedule()
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 9, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 1, 0, 0, time.UTC), sched.Next(from).UTC())
}

func TestStartRejectsUnknownZone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "Mars/Olympus"}, func(context.Context) error { return nil }, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false, Timezone: "UTC"}, func(context.Context) error { return nil }, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	snap := s.Snapshot()
	assert.False(t, snap.Enabled)
	assert.True(t, snap.Next.IsZero())
	s.Stop(context.Background())
}

func TestStartStopSchedulesNextRun(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, func(context.Context) error { return nil }, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Snapshot().Next.IsZero(), "next run not scheduled")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRunNowGuardsOverlap(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	s := New(Config{Timezone: "UTC"}, func(context.Context) error {
		close(entered)
		<-release
		return nil
	}, logx.Nop())

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), nil) }()
	<-entered

	err := s.RunNow(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrBusy)
	s.trigger()
	assert.EqualValues(t, 1, s.Snapshot().Skipped)

	close(release)
	require.NoError(t, <-done)
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.Runs)
	assert.False(t, snap.Running)
}

func TestRunRecoversPanicAndRecordsFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC", Timeout: time.Second}, func(context.Context) error { panic("boom") }, logx.Nop())

	require.Error(t, s.RunNow(context.Background(), nil), "panic should surface as error")
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.Failures)
	assert.NotEmpty(t, snap.LastError)
	assert.NoError(t, s.RunNow(context.Background(), func(context.Context) error { return nil }), "guard not released after panic")
}

func TestRunAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC", Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, logx.Nop())
	assert.ErrorIs(t, s.RunNow(context.Background(), nil), context.DeadlineExceeded)
}

func TestApplyInvalidSpecKeepsSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, func(context.Context) error { return nil }, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	s.Apply(Config{Enabled: true, Timezone: "UTC", Spec: "garbage"})
	snap := s.Snapshot()
	assert.Equal(t, DefaultSpec, snap.Spec)
	assert.False(t, snap.Next.IsZero())
}

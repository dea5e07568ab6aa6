package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/pkg/logger"
	"github.com/alem-hub/daily-lessons/pkg/timeutil"
)

type testJob struct {
	name    string
	runs    atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
	panicky bool
}

func (j *testJob) Name() string        { return j.name }
func (j *testJob) Description() string { return "test job" }

func (j *testJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.started != nil {
		j.started <- struct{}{}
	}
	if j.block != nil {
		<-j.block
	}
	if j.panicky {
		panic("boom")
	}
	return j.err
}

func (j *testJob) LastRunMetadata() map[string]any {
	return map[string]any{"runs": int(j.runs.Load())}
}

// every fires at a fixed offset from the previous check, below cron's
// one-second resolution when tests need it.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }
func (e every) String() string             { return "every " + time.Duration(e).String() }

func newTestScheduler(clock timeutil.Clock) *Scheduler {
	return NewScheduler(SchedulerConfig{Logger: logger.Discard(), Clock: clock})
}

func jobInfo(t *testing.T, s *Scheduler, name string) JobInfo {
	t.Helper()
	for _, info := range s.ListJobs() {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("job %q not registered", name)
	return JobInfo{}
}

func TestParseSchedule(t *testing.T) {
	loc, err := timeutil.LoadLocation("UTC+5")
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)

	tests := []struct {
		spec string
		want time.Time
	}{
		{"@hourly", time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"@every 30m", base.Add(30 * time.Minute)},
		// 09:00 in UTC+5 is 04:00 UTC, so the next one is tomorrow
		{"0 9 * * *", time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC)},
		{"30 0 9 * * *", time.Date(2024, 1, 2, 4, 0, 30, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseSchedule(tt.spec, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.spec, s.String())
			assert.True(t, tt.want.Equal(s.Next(base)), "got %s", s.Next(base))
		})
	}

	for _, bad := range []string{"", "every day", "61 * * * *", "@fortnightly"} {
		_, err := ParseSchedule(bad, nil)
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad)
	}
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(timeutil.NewFixedClock(time.Now()))
	job := &testJob{name: "a"}

	require.NoError(t, s.Register(job, every(time.Minute)))
	assert.ErrorIs(t, s.Register(job, every(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, every(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&testJob{name: "b"}, nil), ErrNilSchedule)

	require.NoError(t, s.Register(&testJob{name: "0-first"}, every(time.Hour)))

	infos := s.ListJobs()
	require.Len(t, infos, 2)
	assert.Equal(t, "0-first", infos[0].Name)
	assert.Equal(t, "a", infos[1].Name)
	assert.Equal(t, "test job", infos[1].Description)
	assert.Equal(t, "every 1m0s", infos[1].Schedule)
	assert.Nil(t, infos[1].LastResult)
}

func TestScheduler_DueJobRunsOnce(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(clock)
	job := &testJob{name: "due"}
	require.NoError(t, s.Register(job, every(time.Hour)))

	s.ctx = context.Background()
	s.checkAndRunJobs()
	s.wg.Wait()
	assert.Equal(t, int32(0), job.runs.Load(), "not due yet")

	clock.Advance(time.Hour)
	s.checkAndRunJobs()
	s.wg.Wait()
	assert.Equal(t, int32(1), job.runs.Load())

	s.checkAndRunJobs()
	s.wg.Wait()
	assert.Equal(t, int32(1), job.runs.Load(), "next run moved forward")

	info := jobInfo(t, s, "due")
	assert.Equal(t, int64(1), info.RunCount)
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
	assert.NotEmpty(t, info.LastResult.RunID)
	assert.Equal(t, 1, info.LastResult.Metadata["runs"])
}

func TestScheduler_OverlappingRunIsSkipped(t *testing.T) {
	clock := timeutil.NewFixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(clock)
	job := &testJob{name: "slow", block: make(chan struct{}), started: make(chan struct{}, 1)}
	require.NoError(t, s.Register(job, every(time.Minute)))

	var skipped atomic.Int32
	s.OnJobSkipped(func(string) { skipped.Add(1) })

	s.ctx = context.Background()
	clock.Advance(time.Minute)
	s.checkAndRunJobs()
	<-job.started

	clock.Advance(time.Minute)
	s.checkAndRunJobs()

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	s.wg.Wait()

	assert.Equal(t, int32(1), job.runs.Load())
	assert.Equal(t, int32(1), skipped.Load())
	info := jobInfo(t, s, "slow")
	assert.Equal(t, int64(1), info.SkipCount)
	assert.False(t, info.Running)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(timeutil.SystemClock{})
	failing := &testJob{name: "failing", err: errors.New("nope")}
	require.NoError(t, s.Register(failing, every(time.Hour)))

	var started []string
	var completed []JobResult
	s.OnJobStart(func(name string) { started = append(started, name) })
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	result, err := s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "nope")
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)
	assert.Equal(t, []string{"failing"}, started)
	require.Len(t, completed, 1)
	assert.Equal(t, int64(1), jobInfo(t, s, "failing").FailCount)

	_, err = s.RunNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	s := newTestScheduler(timeutil.SystemClock{})
	require.NoError(t, s.Register(&testJob{name: "p", panicky: true}, every(time.Hour)))

	_, err := s.RunNow(context.Background(), "p")
	assert.ErrorIs(t, err, ErrJobPanicked)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Logger: logger.Discard(), TickInterval: 5 * time.Millisecond})
	job := &testJob{name: "fast", started: make(chan struct{}, 16)}
	require.NoError(t, s.Register(job, every(time.Millisecond)))

	assert.False(t, s.IsRunning())
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	select {
	case <-job.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

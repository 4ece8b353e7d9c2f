package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, opts DispatcherOptions) *Dispatcher {
	t.Helper()
	if opts.Store == nil {
		opts.Store = newTestStore(t)
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	return d
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met within timeout")
}

func TestDispatcherProcessesJobs(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{})

	var mutex sync.Mutex
	var payloads []string
	err := d.Register(LaneWorkflow, 2, func(ctx context.Context, job *Job) error {
		mutex.Lock()
		payloads = append(payloads, job.Data["value"].(string))
		mutex.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	for _, value := range []string{"a", "b", "c"} {
		_, err := d.Submit(LaneWorkflow, map[string]any{"value": value}, JobOptions{})
		require.NoError(t, err)
	}

	waitFor(t, 3*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(payloads) == 3
	})

	stats, err := d.Stats(LaneWorkflow)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)
	require.Equal(t, 0, stats.Claimed)
	require.Equal(t, 3, stats.Done)
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	store := newTestStore(t)
	d := newTestDispatcher(t, DispatcherOptions{Store: store})

	var calls atomic.Int64
	err := d.Register(LaneEmail, 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("smtp unavailable")
	})
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	job, err := d.Submit(LaneEmail, map[string]any{"to": "ops@example.com"}, JobOptions{
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		stats, err := store.Stats(LaneEmail)
		return err == nil && stats.Dead == 1
	})
	require.Equal(t, int64(3), calls.Load())

	dead, err := store.DeadLetters(LaneEmail)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, job.ID, dead[0].ID)
	require.Equal(t, 3, dead[0].Attempts)
	require.Equal(t, "smtp unavailable", dead[0].LastError)
}

func TestDispatcherRecoversAfterFailure(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{})

	var calls atomic.Int64
	var succeeded atomic.Bool
	err := d.Register(LaneWebhook, 1, func(ctx context.Context, job *Job) error {
		if calls.Add(1) < 2 {
			return errors.New("temporary")
		}
		succeeded.Store(true)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err = d.Submit(LaneWebhook, nil, JobOptions{MaxAttempts: 5})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool { return succeeded.Load() })
	require.Equal(t, int64(2), calls.Load())
}

func TestDispatcherPausedLaneHoldsJobs(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{})

	var calls atomic.Int64
	err := d.Register(LaneNotification, 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.Pause(LaneNotification))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	_, err = d.Submit(LaneNotification, nil, JobOptions{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(0), calls.Load())

	require.NoError(t, d.Resume(LaneNotification))
	waitFor(t, 3*time.Second, func() bool { return calls.Load() == 1 })
}

func TestRegisterValidation(t *testing.T) {
	d := newTestDispatcher(t, DispatcherOptions{})
	handler := func(ctx context.Context, job *Job) error { return nil }

	require.Error(t, d.Register("", 1, handler))
	require.Error(t, d.Register(LaneWorkflow, 1, nil))
	require.NoError(t, d.Register(LaneWorkflow, 1, handler))
	require.Error(t, d.Register(LaneWorkflow, 1, handler))
}

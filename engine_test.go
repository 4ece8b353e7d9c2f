package conveyor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/conveyor/queue"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	registry.MustRegister(echoExecutor("trigger"))
	registry.MustRegister(echoExecutor("echo"))
	registry.MustRegister(NewExecutorFunc(Definition{ID: "fail"},
		func(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
			return nil, fmt.Errorf("always fails")
		}))
	return registry
}

func simpleWorkflow(t *testing.T, name, nodeType string) *Workflow {
	t.Helper()
	wf, err := New(Options{
		Name:  name,
		Nodes: []*Node{{ID: "only", Type: nodeType}},
	})
	require.NoError(t, err)
	return wf
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineExecuteWorkflow(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(simpleWorkflow(t, "wf1", "trigger")))

	result, err := engine.ExecuteWorkflow(context.Background(), "wf1", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.True(t, result.Success)

	// The run is retrievable and listed through the engine's store.
	run, err := engine.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, run.Status)

	summaries, err := engine.ListRuns(context.Background(), "wf1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, result.RunID, summaries[0].RunID)
}

func TestEngineUnknownWorkflow(t *testing.T) {
	engine, err := NewEngine(EngineOptions{Logger: quietLogger()})
	require.NoError(t, err)

	_, err = engine.ExecuteWorkflow(context.Background(), "ghost", nil)
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeValidation))
}

func TestEngineRejectsDuplicateWorkflow(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	wf := simpleWorkflow(t, "wf1", "trigger")
	require.NoError(t, engine.AddWorkflow(wf))
	require.Error(t, engine.AddWorkflow(wf))
}

func TestEngineQueuedExecution(t *testing.T) {
	jobStore, err := queue.OpenStore(queue.StoreOptions{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })

	dispatcher, err := queue.NewDispatcher(queue.DispatcherOptions{
		Store:        jobStore,
		Logger:       quietLogger(),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	engine, err := NewEngine(EngineOptions{
		Registry:   testRegistry(t),
		Dispatcher: dispatcher,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(simpleWorkflow(t, "wf1", "trigger")))

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	job, err := engine.SubmitRun("wf1", map[string]any{"source": "queued"}, queue.JobOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		summaries, err := engine.ListRuns(context.Background(), "wf1")
		require.NoError(t, err)
		if len(summaries) > 0 && summaries[0].Status == RunStatusCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("queued run never completed")
}

func TestEngineQueuedRunFailureDeadLetters(t *testing.T) {
	jobStore, err := queue.OpenStore(queue.StoreOptions{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })

	dispatcher, err := queue.NewDispatcher(queue.DispatcherOptions{
		Store:        jobStore,
		Logger:       quietLogger(),
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	engine, err := NewEngine(EngineOptions{
		Registry:   testRegistry(t),
		Dispatcher: dispatcher,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(simpleWorkflow(t, "doomed", "fail")))

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	_, err = engine.SubmitRun("doomed", nil, queue.JobOptions{MaxAttempts: 2})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := dispatcher.Stats(queue.LaneWorkflow)
		require.NoError(t, err)
		if stats.Dead == 1 {
			dead, err := jobStore.DeadLetters(queue.LaneWorkflow)
			require.NoError(t, err)
			require.Len(t, dead, 1)
			require.Equal(t, 2, dead[0].Attempts)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("failing run was never dead-lettered")
}

func TestEngineSubmitRequiresDispatcher(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(simpleWorkflow(t, "wf1", "trigger")))

	_, err = engine.SubmitRun("wf1", nil, queue.JobOptions{})
	require.Error(t, err)
}

func TestEngineWebhookRequiresActiveWorkflow(t *testing.T) {
	jobStore, err := queue.OpenStore(queue.StoreOptions{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })
	dispatcher, err := queue.NewDispatcher(queue.DispatcherOptions{
		Store:  jobStore,
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	engine, err := NewEngine(EngineOptions{
		Registry:   testRegistry(t),
		Dispatcher: dispatcher,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(simpleWorkflow(t, "wf1", "trigger")))

	_, err = engine.TriggerWebhook("wf1", map[string]any{"event": "push"})
	require.Error(t, err)

	require.NoError(t, engine.SetWorkflowActive("wf1", true))
	job, err := engine.TriggerWebhook("wf1", map[string]any{"event": "push"})
	require.NoError(t, err)
	require.Equal(t, "wf1", job.Data["workflow_id"])
}

func TestEngineActivationRegistersSchedules(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	wf, err := New(Options{
		Name:  "scheduled",
		Nodes: []*Node{{ID: "only", Type: "trigger"}},
		Settings: Settings{
			Schedules: []ScheduleSpec{{Interval: 1, Unit: "hours"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(wf))

	require.NoError(t, engine.SetWorkflowActive("scheduled", true))
	require.True(t, engine.scheduler.Registered("scheduled"))

	require.NoError(t, engine.SetWorkflowActive("scheduled", false))
	require.False(t, engine.scheduler.Registered("scheduled"))
}

func TestEngineFirstScheduleActivatesWorkflow(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	wf, err := New(Options{
		Name:  "bare",
		Nodes: []*Node{{ID: "only", Type: "trigger"}},
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(wf))
	require.False(t, wf.Active())

	err = engine.UpdateWorkflowSchedules("bare", []ScheduleSpec{{Interval: 1, Unit: "hours"}})
	require.NoError(t, err)
	require.True(t, wf.Active())
	require.True(t, engine.scheduler.Registered("bare"))

	// Dropping the last schedule removes the timers but leaves the
	// workflow active for manual and webhook runs.
	require.NoError(t, engine.UpdateWorkflowSchedules("bare", nil))
	require.False(t, engine.scheduler.Registered("bare"))
	require.True(t, wf.Active())

	err = engine.UpdateWorkflowSchedules("missing", []ScheduleSpec{{Cron: "* * * * *"}})
	require.Error(t, err)
}

func TestEngineScheduledRunWithoutDispatcherExecutesInline(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Registry: testRegistry(t),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	wf, err := New(Options{
		Name:  "ticker",
		Nodes: []*Node{{ID: "only", Type: "trigger"}},
		Settings: Settings{
			Schedules: []ScheduleSpec{{Interval: 1, Unit: "seconds"}},
		},
		Active: true,
	})
	require.NoError(t, err)
	require.NoError(t, engine.AddWorkflow(wf))

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		summaries, err := engine.ListRuns(context.Background(), "ticker")
		require.NoError(t, err)
		if len(summaries) > 0 {
			require.Equal(t, RunStatusCompleted, summaries[0].Status)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("schedule never fired a run")
}

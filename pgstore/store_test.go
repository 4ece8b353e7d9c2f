package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deepnoodle-ai/conveyor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("conveyor"),
		postgres.WithUsername("conveyor"),
		postgres.WithPassword("conveyor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func sampleRun(id, workflowID string, status conveyor.RunStatus, start time.Time) *conveyor.WorkflowRun {
	run := &conveyor.WorkflowRun{
		ID:         id,
		WorkflowID: workflowID,
		Status:     status,
		Input:      map[string]any{"value": 1.0},
		NodeResults: map[string]*conveyor.NodeResult{
			"n1": {NodeID: "n1", NodeType: "set", Success: true, Timestamp: start},
		},
		ExecutionOrder: []string{"n1"},
		NodeOutputs:    map[string]any{"n1": map[string]any{"value": 1.0}},
		StartTime:      start,
	}
	if status.Terminal() {
		run.EndTime = start.Add(time.Second)
	}
	return run
}

func TestSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Millisecond)
	run := sampleRun("run_1", "wf1", conveyor.RunStatusCompleted, start)
	run.Output = map[string]any{"value": 2.0}
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	require.Equal(t, run.ID, loaded.ID)
	require.Equal(t, run.WorkflowID, loaded.WorkflowID)
	require.Equal(t, conveyor.RunStatusCompleted, loaded.Status)
	require.Equal(t, map[string]any{"value": 2.0}, loaded.Output)
	require.Equal(t, []string{"n1"}, loaded.ExecutionOrder)
	require.True(t, loaded.NodeResults["n1"].Success)
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "run_missing")
	require.Error(t, err)
	require.True(t, conveyor.MatchesErrorType(err, conveyor.ErrorTypeValidation))
}

func TestSaveRunUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC()
	run := sampleRun("run_2", "wf1", conveyor.RunStatusRunning, start)
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = conveyor.RunStatusFailed
	run.Error = "node exploded"
	run.EndTime = start.Add(2 * time.Second)
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run_2")
	require.NoError(t, err)
	require.Equal(t, conveyor.RunStatusFailed, loaded.Status)
	require.Equal(t, "node exploded", loaded.Error)
}

func TestListRunsNewestFirstAndFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_a", "wf1", conveyor.RunStatusCompleted, base)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_b", "wf1", conveyor.RunStatusCompleted, base.Add(10*time.Minute))))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_c", "wf2", conveyor.RunStatusFailed, base.Add(5*time.Minute))))

	summaries, err := store.ListRuns(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "run_b", summaries[0].RunID)
	require.Equal(t, "run_a", summaries[1].RunID)
	require.Equal(t, time.Second, summaries[0].Duration)

	all, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestDeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run_d", "wf1", conveyor.RunStatusCompleted, time.Now().UTC())
	require.NoError(t, store.SaveRun(ctx, run))
	require.NoError(t, store.DeleteRun(ctx, "run_d"))
	_, err := store.GetRun(ctx, "run_d")
	require.Error(t, err)

	// Unknown IDs delete cleanly.
	require.NoError(t, store.DeleteRun(ctx, "run_missing"))
}

func TestPruneBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_old", "wf1", conveyor.RunStatusCompleted, old)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_new", "wf1", conveyor.RunStatusCompleted, recent)))
	// Still running, no end time: never pruned.
	require.NoError(t, store.SaveRun(ctx, sampleRun("run_live", "wf1", conveyor.RunStatusRunning, old)))

	pruned, err := store.PruneBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	_, err = store.GetRun(ctx, "run_old")
	require.Error(t, err)
	_, err = store.GetRun(ctx, "run_new")
	require.NoError(t, err)
	_, err = store.GetRun(ctx, "run_live")
	require.NoError(t, err)
}

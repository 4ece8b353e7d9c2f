package conveyor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func storedRun(id, workflowID string, start time.Time) *WorkflowRun {
	return &WorkflowRun{
		ID:         id,
		WorkflowID: workflowID,
		Status:     RunStatusCompleted,
		StartTime:  start,
		EndTime:    start.Add(time.Second),
	}
}

func TestMemoryRunStoreRoundTrip(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	run := storedRun("run_1", "wf1", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	require.Equal(t, run, loaded)

	_, err = store.GetRun(ctx, "run_missing")
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeValidation))
}

func TestMemoryRunStoreListNewestFirst(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.SaveRun(ctx, storedRun("run_a", "wf1", base)))
	require.NoError(t, store.SaveRun(ctx, storedRun("run_b", "wf1", base.Add(20*time.Minute))))
	require.NoError(t, store.SaveRun(ctx, storedRun("run_c", "wf2", base.Add(10*time.Minute))))

	summaries, err := store.ListRuns(ctx, "wf1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "run_b", summaries[0].RunID)
	require.Equal(t, "run_a", summaries[1].RunID)

	all, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryRunStoreDelete(t *testing.T) {
	store := NewMemoryRunStore()
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, storedRun("run_1", "wf1", time.Now())))
	require.NoError(t, store.DeleteRun(ctx, "run_1"))
	_, err := store.GetRun(ctx, "run_1")
	require.Error(t, err)
}

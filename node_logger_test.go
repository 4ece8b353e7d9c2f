package conveyor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileNodeLoggerRoundTrip(t *testing.T) {
	logger := NewFileNodeLogger(t.TempDir())
	ctx := context.Background()

	first := &NodeLogEntry{
		RunID:     "run_1",
		NodeID:    "fetch",
		NodeType:  "http",
		Attempt:   1,
		Input:     map[string]any{"url": "https://example.com"},
		Error:     "request failed: timeout",
		StartTime: time.Now().UTC(),
		Duration:  0.25,
	}
	second := &NodeLogEntry{
		RunID:    "run_1",
		NodeID:   "fetch",
		NodeType: "http",
		Attempt:  2,
		Output:   map[string]any{"status": 200.0},
	}
	require.NoError(t, logger.LogNode(ctx, first))
	require.NoError(t, logger.LogNode(ctx, second))

	// Another run goes to its own file.
	require.NoError(t, logger.LogNode(ctx, &NodeLogEntry{RunID: "run_2", NodeID: "other"}))

	entries, err := logger.GetNodeHistory(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Attempt)
	require.Equal(t, "request failed: timeout", entries[0].Error)
	require.Equal(t, 2, entries[1].Attempt)
	require.Equal(t, map[string]any{"status": 200.0}, entries[1].Output)
}

func TestFileNodeLoggerMissingRun(t *testing.T) {
	logger := NewFileNodeLogger(t.TempDir())
	_, err := logger.GetNodeHistory(context.Background(), "run_missing")
	require.Error(t, err)
}

func TestNullNodeLogger(t *testing.T) {
	logger := NewNullNodeLogger()
	require.NoError(t, logger.LogNode(context.Background(), &NodeLogEntry{RunID: "run_1"}))
	entries, err := logger.GetNodeHistory(context.Background(), "run_1")
	require.NoError(t, err)
	require.Nil(t, entries)
}

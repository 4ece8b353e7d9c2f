package conveyor

import (
	"context"
	"time"
)

// NodeLogEntry represents a single node execution log entry
type NodeLogEntry struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Attempt    int            `json:"attempt"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartTime  time.Time      `json:"start_time"`
	Duration   float64        `json:"duration"`
}

// NodeLogger defines the node execution logging interface
type NodeLogger interface {
	// LogNode logs a completed node attempt
	LogNode(ctx context.Context, entry *NodeLogEntry) error

	// GetNodeHistory retrieves the node log for a run
	GetNodeHistory(ctx context.Context, runID string) ([]*NodeLogEntry, error)
}

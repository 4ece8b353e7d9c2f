package conveyor

import (
	"time"

	"go.jetify.com/typeid"
)

// NewRunID returns a new prefixed unique ID for run identification
func NewRunID() string {
	id, err := typeid.WithPrefix("run")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// RunStatus represents the run status. Transitions are monotonic and the
// status is terminal once completed, failed, or cancelled.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// NodeResult records one attempted node execution. Results are append-only
// per run: one entry per node that was attempted. Skipped nodes are
// recorded separately on the run, not as NodeResults.
type NodeResult struct {
	NodeID    string        `json:"node_id"`
	NodeType  string        `json:"node_type"`
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// WorkflowRun is the persisted record of one execution of a workflow
// against a specific input. It is created at run start, mutated only by
// the run coordinator, and finalized when no more nodes are runnable.
type WorkflowRun struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	Status         RunStatus              `json:"status"`
	Input          map[string]any         `json:"input,omitempty"`
	Output         any                    `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	NodeResults    map[string]*NodeResult `json:"node_results"`
	ExecutionOrder []string               `json:"execution_order"`
	SkippedNodes   []string               `json:"skipped_nodes,omitempty"`
	NodeOutputs    map[string]any         `json:"node_outputs"`
	StartTime      time.Time              `json:"start_time,omitzero"`
	EndTime        time.Time              `json:"end_time,omitzero"`
}

// RunResult is the result shape surfaced to every caller: API, queue
// handler, or test harness.
type RunResult struct {
	RunID          string                 `json:"run_id"`
	Success        bool                   `json:"success"`
	Output         any                    `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Duration       time.Duration          `json:"duration"`
	NodeResults    map[string]*NodeResult `json:"node_results"`
	ExecutionOrder []string               `json:"execution_order"`
	NodeOutputs    map[string]any         `json:"node_outputs"`
}

// RunSummary is a compact listing entry for stored runs.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	WorkflowID string        `json:"workflow_id"`
	Status     RunStatus     `json:"status"`
	StartTime  time.Time     `json:"start_time,omitzero"`
	EndTime    time.Time     `json:"end_time,omitzero"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Summary converts a run record to its listing form.
func (r *WorkflowRun) Summary() *RunSummary {
	duration := time.Duration(0)
	if !r.EndTime.IsZero() {
		duration = r.EndTime.Sub(r.StartTime)
	}
	return &RunSummary{
		RunID:      r.ID,
		WorkflowID: r.WorkflowID,
		Status:     r.Status,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Duration:   duration,
		Error:      r.Error,
	}
}

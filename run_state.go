package conveyor

import (
	"sync"
	"time"
)

// runState consolidates all mutable run bookkeeping behind one mutex.
// The nodeOutputs map has a single writer (the coordinator, once per node,
// after that node reaches a terminal state) and many readers (context
// construction for not-yet-started nodes), so readers always observe fully
// written outputs.
type runState struct {
	runID          string
	workflowID     string
	status         RunStatus
	startTime      time.Time
	endTime        time.Time
	err            string
	input          map[string]any
	output         any
	nodeResults    map[string]*NodeResult
	nodeOutputs    map[string]any
	executionOrder []string
	skippedNodes   []string
	mutex          sync.RWMutex
}

func newRunState(runID, workflowID string, input map[string]any) *runState {
	return &runState{
		runID:       runID,
		workflowID:  workflowID,
		status:      RunStatusPending,
		input:       copyMap(input),
		nodeResults: map[string]*NodeResult{},
		nodeOutputs: map[string]any{},
	}
}

func (s *runState) RunID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.runID
}

func (s *runState) WorkflowID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.workflowID
}

func (s *runState) GetStatus() RunStatus {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.status
}

// SetStatus updates the run status. Terminal statuses are sticky.
func (s *runState) SetStatus(status RunStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status.Terminal() {
		return
	}
	s.status = status
}

func (s *runState) SetStarted(startTime time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.status = RunStatusRunning
	s.startTime = startTime
}

func (s *runState) SetFinished(status RunStatus, endTime time.Time, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.status.Terminal() {
		s.status = status
	}
	s.endTime = endTime
	if err != nil {
		s.err = err.Error()
	}
}

func (s *runState) GetStartTime() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.startTime
}

func (s *runState) GetInput() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return copyMap(s.input)
}

// RecordNodeResult appends a node's result and, in the same critical
// section, publishes its output to nodeOutputs and the execution order.
// Downstream readers never observe one without the other.
func (s *runState) RecordNodeResult(result *NodeResult, output any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nodeResults[result.NodeID] = result
	s.nodeOutputs[result.NodeID] = output
	s.executionOrder = append(s.executionOrder, result.NodeID)
}

// RecordSkipped marks a node as skipped. Skipped nodes are tracked apart
// from node results.
func (s *runState) RecordSkipped(nodeID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.skippedNodes = append(s.skippedNodes, nodeID)
}

// PublishOutput records an output entry without a node result, used for
// disabled nodes with alwaysOutputData set.
func (s *runState) PublishOutput(nodeID string, output any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nodeOutputs[nodeID] = output
}

// NodeOutputsSnapshot returns a read-only copy of the outputs recorded so
// far, for expression resolution in a node about to start.
func (s *runState) NodeOutputsSnapshot() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return copyMap(s.nodeOutputs)
}

func (s *runState) GetNodeResult(nodeID string) (*NodeResult, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result, ok := s.nodeResults[nodeID]
	return result, ok
}

func (s *runState) SetRunOutput(output any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.output = output
}

// ToRun snapshots the state into a serializable run record.
func (s *runState) ToRun() *WorkflowRun {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	results := make(map[string]*NodeResult, len(s.nodeResults))
	for id, result := range s.nodeResults {
		copied := *result
		results[id] = &copied
	}
	return &WorkflowRun{
		ID:             s.runID,
		WorkflowID:     s.workflowID,
		Status:         s.status,
		Input:          copyMap(s.input),
		Output:         s.output,
		Error:          s.err,
		NodeResults:    results,
		ExecutionOrder: append([]string{}, s.executionOrder...),
		SkippedNodes:   append([]string{}, s.skippedNodes...),
		NodeOutputs:    copyMap(s.nodeOutputs),
		StartTime:      s.startTime,
		EndTime:        s.endTime,
	}
}

// ToResult snapshots the state into the caller-facing result shape.
func (s *runState) ToResult() *RunResult {
	run := s.ToRun()
	duration := time.Duration(0)
	if !run.EndTime.IsZero() {
		duration = run.EndTime.Sub(run.StartTime)
	}
	return &RunResult{
		RunID:          run.ID,
		Success:        run.Status == RunStatusCompleted,
		Output:         run.Output,
		Error:          run.Error,
		Duration:       duration,
		NodeResults:    run.NodeResults,
		ExecutionOrder: run.ExecutionOrder,
		NodeOutputs:    run.NodeOutputs,
	}
}

// copyMap creates a shallow copy of a map
func copyMap(m map[string]any) map[string]any {
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}

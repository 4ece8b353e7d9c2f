package conveyor

import (
	"context"
	"time"
)

// RunCallbacks defines the callback interface for run execution events
type RunCallbacks interface {
	// Run-level callbacks
	BeforeRunExecution(ctx context.Context, event *RunExecutionEvent)
	AfterRunExecution(ctx context.Context, event *RunExecutionEvent)

	// Node-level callbacks
	BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent)
	AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent)
}

// RunExecutionEvent provides context for run-level execution events
type RunExecutionEvent struct {
	RunID      string
	WorkflowID string
	Status     RunStatus
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Input      map[string]any
	Output     any
	NodeCount  int
	Error      error
}

// NodeExecutionEvent provides context for node execution events
type NodeExecutionEvent struct {
	RunID      string
	WorkflowID string
	NodeID     string
	NodeType   string
	Attempt    int
	Input      map[string]any
	Output     any
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Error      error
}

// BaseRunCallbacks provides a default implementation that does nothing.
// Embed this in your own callbacks to get no-op defaults.
type BaseRunCallbacks struct{}

func (n *BaseRunCallbacks) BeforeRunExecution(ctx context.Context, event *RunExecutionEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterRunExecution(ctx context.Context, event *RunExecutionEvent) {
	// noop
}

func (n *BaseRunCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	// noop
}

func (n *BaseRunCallbacks) AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	// noop
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []RunCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...RunCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback RunCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeRunExecution(ctx context.Context, event *RunExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeRunExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterRunExecution(ctx context.Context, event *RunExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterRunExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeNodeExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterNodeExecution(ctx, event)
	}
}

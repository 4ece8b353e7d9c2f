package executors

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/conveyor"
)

// DelayInput configures a delay node.
type DelayInput struct {
	DurationMs int `json:"duration_ms"`
}

// DelayOutput reports how long the node actually waited.
type DelayOutput struct {
	WaitedMs int64 `json:"waited_ms"`
}

// DelayExecutor pauses the branch for a fixed duration. Cancellation cuts
// the wait short and fails the node.
type DelayExecutor struct{}

func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

func (e *DelayExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "delay",
		Description: "Waits before continuing",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "duration_ms", Kind: conveyor.ParameterKindNumber, Required: true},
		},
	}
}

func (e *DelayExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext, input DelayInput) (DelayOutput, error) {
	started := time.Now()
	duration := time.Duration(input.DurationMs) * time.Millisecond
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return DelayOutput{}, ctx.Err()
	case <-timer.C:
	}
	return DelayOutput{WaitedMs: time.Since(started).Milliseconds()}, nil
}

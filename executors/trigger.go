package executors

import (
	"context"

	"github.com/deepnoodle-ai/conveyor"
)

// TriggerExecutor is the entry node of a workflow. It emits the run input
// unchanged so downstream nodes can address it through node output paths
// as well as through the run input scope.
type TriggerExecutor struct{}

func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

func (e *TriggerExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "trigger",
		Description: "Starts a run and emits the run input",
		Outputs:     []conveyor.Port{{Name: "main"}},
	}
}

func (e *TriggerExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	output := make(map[string]any, len(ec.Input))
	for key, value := range ec.Input {
		output[key] = value
	}
	return &conveyor.ExecutionResult{Success: true, Output: output}, nil
}

package executors

import (
	"context"

	"github.com/deepnoodle-ai/conveyor"
)

// SetExecutor shapes data: it emits the fields declared under "values",
// resolved against the run, layered over whatever arrived on inbound edge
// mappings. Useful for renaming, constants and assembling payloads.
type SetExecutor struct{}

func NewSetExecutor() *SetExecutor {
	return &SetExecutor{}
}

func (e *SetExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "set",
		Description: "Emits a shaped set of fields",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "values", Kind: conveyor.ParameterKindMap, Required: true},
		},
	}
}

func (e *SetExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	output := map[string]any{}
	for key, value := range ec.Input {
		if key == "values" {
			continue
		}
		output[key] = value
	}
	if values, ok := ec.Input["values"].(map[string]any); ok {
		for key, value := range values {
			output[key] = value
		}
	}
	return &conveyor.ExecutionResult{Success: true, Output: output}, nil
}

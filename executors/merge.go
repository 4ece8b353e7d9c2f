package executors

import (
	"context"
	"fmt"

	"dario.cat/mergo"

	"github.com/deepnoodle-ai/conveyor"
)

// MergeExecutor combines the outputs of named upstream nodes into one map.
// Later sources win on key conflicts. A fan-in point for parallel branches.
type MergeExecutor struct{}

func NewMergeExecutor() *MergeExecutor {
	return &MergeExecutor{}
}

func (e *MergeExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "merge",
		Description: "Merges the outputs of upstream nodes",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "sources", Kind: conveyor.ParameterKindList, Required: true},
		},
	}
}

func (e *MergeExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	sources, ok := ec.Input["sources"].([]any)
	if !ok {
		return nil, fmt.Errorf("sources must be a list of node ids")
	}

	merged := map[string]any{}
	for _, raw := range sources {
		nodeID, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("source entries must be node id strings, got %T", raw)
		}
		output, exists := ec.NodeOutputs[nodeID]
		if !exists {
			return nil, fmt.Errorf("no output recorded for node %q", nodeID)
		}
		section, ok := output.(map[string]any)
		if !ok {
			merged[nodeID] = output
			continue
		}
		if err := mergo.Merge(&merged, section, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge output of node %q: %w", nodeID, err)
		}
	}
	return &conveyor.ExecutionResult{Success: true, Output: merged}, nil
}

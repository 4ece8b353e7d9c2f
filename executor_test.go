package conveyor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name  string `json:"name"`
	Times int    `json:"times"`
}

type greetOutput struct {
	Greeting string `json:"greeting"`
	Count    int    `json:"count"`
}

type greetExecutor struct{}

func (e *greetExecutor) Definition() Definition {
	return Definition{
		ID: "greet",
		Parameters: []Parameter{
			{Name: "name", Kind: ParameterKindString, Required: true},
			{Name: "times", Kind: ParameterKindNumber},
		},
	}
}

func (e *greetExecutor) Execute(ctx context.Context, ec *ExecutionContext, input greetInput) (greetOutput, error) {
	if input.Name == "" {
		return greetOutput{}, fmt.Errorf("name is required")
	}
	return greetOutput{
		Greeting: "hello " + input.Name,
		Count:    input.Times,
	}, nil
}

func TestTypedExecutorDecodesInput(t *testing.T) {
	executor := NewTypedExecutor[greetInput, greetOutput](&greetExecutor{})
	require.Equal(t, "greet", executor.Definition().ID)

	result, err := executor.Execute(context.Background(), &ExecutionContext{
		Input: map[string]any{"name": "ada", "times": 3},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	// The typed output comes back as a map keyed by JSON field names, so
	// expression paths can address it.
	output, ok := result.Output.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "hello ada", output["greeting"])
	require.Equal(t, float64(3), output["count"])
}

func TestTypedExecutorPropagatesErrors(t *testing.T) {
	executor := NewTypedExecutor[greetInput, greetOutput](&greetExecutor{})
	_, err := executor.Execute(context.Background(), &ExecutionContext{
		Input: map[string]any{"times": 1},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "name is required")
}

func TestTypedExecutorIgnoresUnknownFields(t *testing.T) {
	executor := NewTypedExecutor[greetInput, greetOutput](&greetExecutor{})
	result, err := executor.Execute(context.Background(), &ExecutionContext{
		Input: map[string]any{"name": "ada", "unrelated": true},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestExecutorFunc(t *testing.T) {
	called := false
	executor := NewExecutorFunc(
		Definition{ID: "probe"},
		func(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
			called = true
			return &ExecutionResult{Success: true, Output: ec.NodeID}, nil
		})

	result, err := executor.Execute(context.Background(), &ExecutionContext{NodeID: "n1"})
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "n1", result.Output)
}

package conveyor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ParameterKind enumerates the value kinds a node parameter may take.
type ParameterKind string

const (
	ParameterKindString ParameterKind = "string"
	ParameterKindNumber ParameterKind = "number"
	ParameterKindBool   ParameterKind = "bool"
	ParameterKindList   ParameterKind = "list"
	ParameterKindMap    ParameterKind = "map"
	ParameterKindAny    ParameterKind = "any"
)

// Parameter describes one configurable field of a node type.
type Parameter struct {
	Name        string        `json:"name"`
	Kind        ParameterKind `json:"kind"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Default     any           `json:"default,omitempty"`
}

// Port describes a named input or output of a node type.
type Port struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Definition is the static schema an executor exposes for validation and
// tooling. The engine inspects nothing beyond this.
type Definition struct {
	ID          string      `json:"id"`
	Description string      `json:"description,omitempty"`
	Inputs      []Port      `json:"inputs,omitempty"`
	Outputs     []Port      `json:"outputs,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// ExecutionResult is the canonical result shape for one executor call.
// Executors may alternatively return a Go error; the coordinator normalizes
// both into this form and callers never have to distinguish the two.
type ExecutionResult struct {
	Success  bool          `json:"success"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// Branch names the output path a branching node selected. Edges whose
	// Condition does not match are treated as not satisfied. Empty means
	// every outgoing edge is followed.
	Branch string `json:"branch,omitempty"`
}

// Executor is the pluggable implementation behind a node type.
type Executor interface {

	// Definition returns the executor's static schema.
	Definition() Definition

	// Execute runs the node against a fully resolved execution context.
	// Template syntax never reaches an executor.
	Execute(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error)
}

// Tester is an optional capability for standalone connectivity checks
// outside of a full run.
type Tester interface {
	Test(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error)
}

// ExecuteFunc is the signature of a function-backed executor.
type ExecuteFunc func(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error)

// ExecutorFunc wraps a function for use as an Executor.
type ExecutorFunc struct {
	definition Definition
	fn         ExecuteFunc
}

// NewExecutorFunc returns an Executor for the given definition and function.
func NewExecutorFunc(definition Definition, fn ExecuteFunc) *ExecutorFunc {
	return &ExecutorFunc{definition: definition, fn: fn}
}

func (e *ExecutorFunc) Definition() Definition {
	return e.definition
}

func (e *ExecutorFunc) Execute(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
	return e.fn(ctx, ec)
}

// TypedExecutor is an executor whose input is a typed struct rather than a
// raw map.
type TypedExecutor[TInput, TOutput any] interface {
	Definition() Definition
	Execute(ctx context.Context, ec *ExecutionContext, input TInput) (TOutput, error)
}

// NewTypedExecutor adapts a TypedExecutor to the Executor interface. The
// resolved node input is decoded into TInput via a JSON roundtrip.
func NewTypedExecutor[TInput, TOutput any](inner TypedExecutor[TInput, TOutput]) Executor {
	return &typedExecutorAdapter[TInput, TOutput]{inner: inner}
}

type typedExecutorAdapter[TInput, TOutput any] struct {
	inner TypedExecutor[TInput, TOutput]
}

func (a *typedExecutorAdapter[TInput, TOutput]) Definition() Definition {
	return a.inner.Definition()
}

func (a *typedExecutorAdapter[TInput, TOutput]) Execute(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
	var input TInput
	if err := decodeInput(ec.Input, &input); err != nil {
		return nil, fmt.Errorf("failed to decode input for %q: %w", a.inner.Definition().ID, err)
	}
	output, err := a.inner.Execute(ctx, ec, input)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{Success: true, Output: toOutputValue(output)}, nil
}

// Test forwards to the wrapped executor's connectivity check when it has
// one.
func (a *typedExecutorAdapter[TInput, TOutput]) Test(ctx context.Context, ec *ExecutionContext) (*ExecutionResult, error) {
	tester, ok := any(a.inner).(Tester)
	if !ok {
		return nil, NewValidationError("node type %q has no test capability", a.inner.Definition().ID)
	}
	return tester.Test(ctx, ec)
}

func decodeInput(input map[string]any, target any) error {
	data, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// toOutputValue converts a typed output struct to the map form stored in
// nodeOutputs, so expression paths address fields by their JSON names.
func toOutputValue(output any) any {
	data, err := json.Marshal(output)
	if err != nil {
		return output
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return output
	}
	return generic
}

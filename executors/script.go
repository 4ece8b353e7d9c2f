package executors

import (
	"context"
	"fmt"
	"sort"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/compiler"
	"github.com/risor-io/risor/modules/all"
	"github.com/risor-io/risor/object"
	"github.com/risor-io/risor/parser"

	"github.com/deepnoodle-ai/conveyor"
)

// ScriptExecutor evaluates a Risor script against the node's input. The
// script sees three globals: "input" (the resolved node input), "variables"
// and "outputs" (prior node outputs by node id). Its result value becomes
// the node output.
type ScriptExecutor struct {
	globals map[string]any
}

func NewScriptExecutor() *ScriptExecutor {
	globals := map[string]any{}
	for name, builtin := range all.Builtins() {
		globals[name] = builtin
	}
	return &ScriptExecutor{globals: globals}
}

func (e *ScriptExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "script",
		Description: "Evaluates a Risor script",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "code", Kind: conveyor.ParameterKindString, Required: true},
		},
	}
}

func (e *ScriptExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	code, _ := ec.Input["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	input := make(map[string]any, len(ec.Input))
	for key, value := range ec.Input {
		if key == "code" {
			continue
		}
		input[key] = value
	}

	globals := make(map[string]any, len(e.globals)+3)
	for name, value := range e.globals {
		globals[name] = value
	}
	globals["input"] = input
	globals["variables"] = ec.Variables
	globals["outputs"] = ec.NodeOutputs

	compiled, err := e.compile(ctx, code, globals)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	value, err := risor.EvalCode(ctx, compiled, risor.WithGlobals(globals))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return &conveyor.ExecutionResult{Success: true, Output: convertRisorObject(value)}, nil
}

func (e *ScriptExecutor) compile(ctx context.Context, code string, globals map[string]any) (*compiler.Code, error) {
	ast, err := parser.Parse(ctx, code)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return compiler.Compile(ast, compiler.WithGlobalNames(names))
}

func convertRisorObject(obj object.Object) any {
	switch o := obj.(type) {
	case *object.NilType:
		return nil
	case *object.String:
		return o.Value()
	case *object.Int:
		return o.Value()
	case *object.Float:
		return o.Value()
	case *object.Bool:
		return o.Value()
	case *object.Time:
		return o.Value()
	case *object.List:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertRisorObject(item))
		}
		return result
	case *object.Map:
		result := map[string]any{}
		for key, value := range o.Value() {
			result[key] = convertRisorObject(value)
		}
		return result
	case *object.Set:
		var result []any
		for _, item := range o.Value() {
			result = append(result, convertRisorObject(item))
		}
		return result
	default:
		return obj.Inspect()
	}
}

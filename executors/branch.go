package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/conveyor"
)

// BranchExecutor implements the "if" node. It evaluates a comparison and
// selects the "true" or "false" output branch; edges whose condition names
// the other branch are skipped along with their exclusive descendants.
type BranchExecutor struct{}

func NewBranchExecutor() *BranchExecutor {
	return &BranchExecutor{}
}

func (e *BranchExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "if",
		Description: "Routes the run down the true or false branch",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "true"}, {Name: "false"}},
		Parameters: []conveyor.Parameter{
			{Name: "value", Kind: conveyor.ParameterKindAny, Required: true},
			{Name: "operator", Kind: conveyor.ParameterKindString, Default: "truthy"},
			{Name: "compare", Kind: conveyor.ParameterKindAny},
		},
	}
}

func (e *BranchExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	operator, _ := ec.Input["operator"].(string)
	if operator == "" {
		operator = "truthy"
	}
	value := ec.Input["value"]
	compare := ec.Input["compare"]

	result, err := evaluate(operator, value, compare)
	if err != nil {
		return nil, err
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return &conveyor.ExecutionResult{
		Success: true,
		Output:  map[string]any{"result": result, "branch": branch},
		Branch:  branch,
	}, nil
}

func evaluate(operator string, value, compare any) (bool, error) {
	switch operator {
	case "truthy":
		return truthy(value), nil
	case "exists":
		return value != nil, nil
	case "equals":
		return equal(value, compare), nil
	case "not_equals":
		return !equal(value, compare), nil
	case "contains":
		haystack, okH := value.(string)
		needle, okN := compare.(string)
		if okH && okN {
			return strings.Contains(haystack, needle), nil
		}
		if list, ok := value.([]any); ok {
			for _, item := range list {
				if equal(item, compare) {
					return true, nil
				}
			}
			return false, nil
		}
		return false, fmt.Errorf("contains requires a string or list value")
	case "gt", "gte", "lt", "lte":
		left, okL := toFloat(value)
		right, okR := toFloat(compare)
		if !okL || !okR {
			return false, fmt.Errorf("%s requires numeric operands", operator)
		}
		switch operator {
		case "gt":
			return left > right, nil
		case "gte":
			return left >= right, nil
		case "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unknown operator: %q", operator)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && !strings.EqualFold(v, "false")
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		if f, ok := toFloat(value); ok {
			return f != 0
		}
		return true
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

package conveyor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps node type strings to executors. It is a lookup table the
// run coordinator consults; it performs no execution logic itself.
// Registration happens at process start, before workflows are planned.
type Registry struct {
	mutex     sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: map[string]Executor{}}
}

// Register adds an executor under its definition ID. Registering the same
// type twice is rejected to catch wiring mistakes at startup.
func (r *Registry) Register(executor Executor) error {
	id := executor.Definition().ID
	if id == "" {
		return NewValidationError("executor has an empty type id")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.executors[id]; exists {
		return NewValidationError("executor type %q already registered", id)
	}
	r.executors[id] = executor
	return nil
}

// MustRegister registers an executor and panics on conflict. Intended for
// process-start wiring where a duplicate is a programming error.
func (r *Registry) MustRegister(executor Executor) {
	if err := r.Register(executor); err != nil {
		panic(err)
	}
}

// Get returns the executor for a node type.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	executor, ok := r.executors[nodeType]
	return executor, ok
}

// Types returns all registered node types, sorted.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	types := make([]string, 0, len(r.executors))
	for id := range r.executors {
		types = append(types, id)
	}
	sort.Strings(types)
	return types
}

// Test runs an executor's standalone connectivity check, for node types
// whose executor offers one. This never touches a run; it exists so
// callers can verify reachability of an external service before wiring
// the node into a workflow.
func (r *Registry) Test(ctx context.Context, nodeType string, ec *ExecutionContext) (*ExecutionResult, error) {
	executor, ok := r.Get(nodeType)
	if !ok {
		return nil, NewValidationError("unknown node type %q", nodeType)
	}
	tester, ok := executor.(Tester)
	if !ok {
		return nil, NewValidationError("node type %q has no test capability", nodeType)
	}
	return tester.Test(ctx, ec)
}

// Validate checks a static node config against the executor's parameter
// schema. It returns one error per violation rather than stopping at the
// first, so callers can surface everything at once.
func (r *Registry) Validate(nodeType string, config map[string]any) []error {
	executor, ok := r.Get(nodeType)
	if !ok {
		return []error{NewValidationError("unknown node type %q", nodeType)}
	}

	definition := executor.Definition()
	known := make(map[string]Parameter, len(definition.Parameters))
	for _, param := range definition.Parameters {
		known[param.Name] = param
	}

	var errs []error
	for _, param := range definition.Parameters {
		value, present := config[param.Name]
		if !present {
			if param.Required && param.Default == nil {
				errs = append(errs, NewValidationError(
					"%s: required parameter %q missing", nodeType, param.Name))
			}
			continue
		}
		if err := checkParameterKind(nodeType, param, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func checkParameterKind(nodeType string, param Parameter, value any) error {
	if value == nil || param.Kind == ParameterKindAny {
		return nil
	}

	// Strings pass for every kind: they may carry template placeholders
	// that resolve to the declared kind at execution time.
	if _, isString := value.(string); isString {
		return nil
	}

	ok := false
	switch param.Kind {
	case ParameterKindString:
		// handled above
	case ParameterKindNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			ok = true
		}
	case ParameterKindBool:
		_, ok = value.(bool)
	case ParameterKindList:
		_, ok = value.([]any)
	case ParameterKindMap:
		_, ok = value.(map[string]any)
	}
	if !ok {
		return NewValidationError("%s: parameter %q must be a %s, got %s",
			nodeType, param.Name, param.Kind, describeValue(value))
	}
	return nil
}

func describeValue(value any) string {
	return fmt.Sprintf("%T", value)
}

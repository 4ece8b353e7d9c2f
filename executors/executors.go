// Package executors provides the built-in node type catalog: triggers,
// HTTP calls, scripting, branching, data shaping and flow utilities.
package executors

import (
	"github.com/deepnoodle-ai/conveyor"
)

// DefaultRegistry returns a registry with every built-in executor
// registered.
func DefaultRegistry() *conveyor.Registry {
	registry := conveyor.NewRegistry()
	registry.MustRegister(NewTriggerExecutor())
	registry.MustRegister(conveyor.NewTypedExecutor(NewHTTPExecutor()))
	registry.MustRegister(NewScriptExecutor())
	registry.MustRegister(NewBranchExecutor())
	registry.MustRegister(NewSetExecutor())
	registry.MustRegister(conveyor.NewTypedExecutor(NewDelayExecutor()))
	registry.MustRegister(NewLogExecutor())
	registry.MustRegister(NewMergeExecutor())
	return registry
}

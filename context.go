package conveyor

import (
	"context"
	"log/slog"

	"dario.cat/mergo"

	"github.com/deepnoodle-ai/conveyor/expr"
)

// ExecutionContext is the ephemeral bundle handed to an executor for one
// node invocation: the resolved input, run metadata, variables and
// credentials, plus a read-only snapshot of the outputs recorded so far.
// It is built immediately before the node executes and discarded after.
type ExecutionContext struct {
	RunID       string
	WorkflowID  string
	NodeID      string
	NodeType    string
	Input       map[string]any
	Variables   map[string]any
	Credentials map[string]any
	NodeOutputs map[string]any
}

// buildExecutionContext is the single seam where templated configuration
// becomes concrete values. For each field mapped on an inbound edge, the
// mapping expression is resolved against prior outputs; the node's static
// config fills every field without a mapping. Executors never see template
// syntax.
func buildExecutionContext(node *Node, state *runState, inbound []*Edge, variables, credentials map[string]any) *ExecutionContext {
	outputs := state.NodeOutputsSnapshot()
	runInput := state.GetInput()
	scope := &expr.Scope{Input: runInput, NodeOutputs: outputs}

	input := map[string]any{}
	for _, edge := range inbound {
		for field, template := range edge.Mappings {
			input[field] = expr.Resolve(template, scope)
		}
	}

	// Static config backfills unmapped fields. Config values may carry
	// templates of their own, so they are resolved against the same scope.
	if len(node.Config) > 0 {
		resolved, _ := expr.Resolve(copyMap(node.Config), scope).(map[string]any)
		if err := mergo.Merge(&input, resolved); err != nil {
			// Merge only fails on invalid argument kinds, which both maps
			// rule out; fall back to explicit backfill regardless.
			for field, value := range resolved {
				if _, mapped := input[field]; !mapped {
					input[field] = value
				}
			}
		}
	}

	// Trigger-style nodes with no mappings and no config receive the run
	// input directly.
	if len(input) == 0 && len(inbound) == 0 {
		input = runInput
	}

	return &ExecutionContext{
		RunID:       state.RunID(),
		WorkflowID:  state.WorkflowID(),
		NodeID:      node.ID,
		NodeType:    node.Type,
		Input:       input,
		Variables:   variables,
		Credentials: credentials,
		NodeOutputs: outputs,
	}
}

type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger attaches a logger to a context for use inside executors.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves the logger attached by WithLogger.
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

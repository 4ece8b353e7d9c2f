package executors

import (
	"context"
	"log/slog"

	"github.com/deepnoodle-ai/conveyor"
)

// LogExecutor writes a structured log line and passes its input through
// unchanged, so it can be inserted anywhere in a graph for visibility.
type LogExecutor struct{}

func NewLogExecutor() *LogExecutor {
	return &LogExecutor{}
}

func (e *LogExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "log",
		Description: "Logs a message and passes input through",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "message", Kind: conveyor.ParameterKindString, Required: true},
			{Name: "level", Kind: conveyor.ParameterKindString, Default: "info"},
		},
	}
}

func (e *LogExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	message, _ := ec.Input["message"].(string)
	level, _ := ec.Input["level"].(string)

	logger, ok := conveyor.LoggerFromContext(ctx)
	if !ok {
		logger = slog.Default()
	}
	logger = logger.With("run_id", ec.RunID, "node_id", ec.NodeID)
	switch level {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}

	output := map[string]any{}
	for key, value := range ec.Input {
		if key == "message" || key == "level" {
			continue
		}
		output[key] = value
	}
	return &conveyor.ExecutionResult{Success: true, Output: output}, nil
}

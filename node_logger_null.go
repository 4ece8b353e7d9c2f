package conveyor

import "context"

// NullNodeLogger is a no-op implementation of NodeLogger.
type NullNodeLogger struct{}

func NewNullNodeLogger() *NullNodeLogger {
	return &NullNodeLogger{}
}

func (l *NullNodeLogger) LogNode(ctx context.Context, entry *NodeLogEntry) error {
	return nil
}

func (l *NullNodeLogger) GetNodeHistory(ctx context.Context, runID string) ([]*NodeLogEntry, error) {
	return nil, nil
}

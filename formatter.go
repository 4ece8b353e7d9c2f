package conveyor

import "context"

// RunFormatter interface for pretty output
type RunFormatter interface {
	PrintNodeStart(nodeID string, nodeType string)
	PrintNodeOutput(nodeID string, output any)
	PrintNodeError(nodeID string, err error)
}

// FormatterCallbacks bridges run callbacks to a RunFormatter, for CLI-style
// progress output.
type FormatterCallbacks struct {
	BaseRunCallbacks
	Formatter RunFormatter
}

func (c *FormatterCallbacks) BeforeNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	c.Formatter.PrintNodeStart(event.NodeID, event.NodeType)
}

func (c *FormatterCallbacks) AfterNodeExecution(ctx context.Context, event *NodeExecutionEvent) {
	if event.Error != nil {
		c.Formatter.PrintNodeError(event.NodeID, event.Error)
		return
	}
	c.Formatter.PrintNodeOutput(event.NodeID, event.Output)
}

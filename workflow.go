package conveyor

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// NodeOptions bundle the per-node execution policy knobs.
type NodeOptions struct {
	// Retries is the number of additional attempts after the first failure.
	// An executor that always fails is invoked Retries+1 times in total.
	Retries int `json:"retries,omitempty" yaml:"retries,omitempty"`

	// TimeoutMs is a hard deadline on a single executor call.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// BackoffMs is the base delay between retry attempts. The delay grows
	// exponentially: BackoffMs * 2^(attempt-1).
	BackoffMs int `json:"backoff_ms,omitempty" yaml:"backoff_ms,omitempty"`

	// ContinueOnError converts a node failure into a tolerated, marked
	// output instead of failing the run.
	ContinueOnError bool `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`

	// Disabled nodes are never executed. Their dependents still run.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// AlwaysOutputData forces an empty output entry for nodes that never
	// execute, so downstream mappings never read a missing output. A
	// disabled node additionally gets a node result entry; a branch-skipped
	// node stays in the skipped list and gets only the output entry.
	AlwaysOutputData bool `json:"always_output_data,omitempty" yaml:"always_output_data,omitempty"`

	// ExecuteOnce forces the node to run at most once per run.
	ExecuteOnce bool `json:"execute_once,omitempty" yaml:"execute_once,omitempty"`
}

// Node represents a single typed unit of work in a workflow graph.
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Options NodeOptions    `json:"options,omitempty" yaml:"options,omitempty"`
}

// Edge is a directed dependency between two nodes. Mappings describe how
// the source's output becomes part of the target's input; Condition selects
// which of a branching source's outputs the edge follows.
type Edge struct {
	Source    string            `json:"source" yaml:"source"`
	Target    string            `json:"target" yaml:"target"`
	Condition string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	Mappings  map[string]string `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

// ScheduleSpec declares a recurring activation for a workflow. Either an
// explicit second-resolution cron expression or an {Interval, Unit} pair.
type ScheduleSpec struct {
	Cron     string         `json:"cron,omitempty" yaml:"cron,omitempty"`
	Interval int            `json:"interval,omitempty" yaml:"interval,omitempty"`
	Unit     string         `json:"unit,omitempty" yaml:"unit,omitempty"`
	Timezone string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Input    map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
}

// Settings hold workflow-level execution defaults.
type Settings struct {
	// Concurrency caps how many ready nodes may execute at once.
	// Zero means unbounded.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// DefaultRetries applies to nodes that do not set their own.
	DefaultRetries int `json:"default_retries,omitempty" yaml:"default_retries,omitempty"`

	// DefaultTimeoutMs applies to nodes that do not set their own.
	DefaultTimeoutMs int `json:"default_timeout_ms,omitempty" yaml:"default_timeout_ms,omitempty"`

	// DefaultBackoffMs applies to nodes that do not set their own.
	DefaultBackoffMs int `json:"default_backoff_ms,omitempty" yaml:"default_backoff_ms,omitempty"`

	// Schedules are the recurring activations registered for the workflow.
	Schedules []ScheduleSpec `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// Options are used to configure a workflow.
type Options struct {
	ID          string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*Node  `json:"nodes" yaml:"nodes"`
	Edges       []*Edge  `json:"edges,omitempty" yaml:"edges,omitempty"`
	Settings    Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
	Active      bool     `json:"active,omitempty" yaml:"active,omitempty"`
}

// Workflow defines a repeatable process as a directed graph of typed nodes.
// The engine receives an immutable snapshot per run; ownership of the
// persisted definition stays with the caller.
type Workflow struct {
	id          string
	name        string
	description string
	nodes       []*Node
	edges       []*Edge
	nodesByID   map[string]*Node
	settings    Settings
	active      bool
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, NewValidationError("workflow name required")
	}
	if len(opts.Nodes) == 0 {
		return nil, NewValidationError("workflow must have at least one node")
	}

	nodesByID := make(map[string]*Node, len(opts.Nodes))
	for _, node := range opts.Nodes {
		if node.ID == "" {
			return nil, NewValidationError("node id required")
		}
		if node.Type == "" {
			return nil, NewValidationError("node %q has no type", node.ID)
		}
		if _, exists := nodesByID[node.ID]; exists {
			return nil, NewValidationError("duplicate node id %q", node.ID)
		}
		nodesByID[node.ID] = node
	}

	for _, edge := range opts.Edges {
		if _, ok := nodesByID[edge.Source]; !ok {
			return nil, NewValidationError("edge source %q not found", edge.Source)
		}
		if _, ok := nodesByID[edge.Target]; !ok {
			return nil, NewValidationError("edge target %q not found", edge.Target)
		}
	}

	id := opts.ID
	if id == "" {
		id = opts.Name
	}

	return &Workflow{
		id:          id,
		name:        opts.Name,
		description: opts.Description,
		nodes:       opts.Nodes,
		edges:       opts.Edges,
		nodesByID:   nodesByID,
		settings:    opts.Settings,
		active:      opts.Active,
	}, nil
}

// ID returns the workflow ID
func (w *Workflow) ID() string {
	return w.id
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Description returns the workflow description
func (w *Workflow) Description() string {
	return w.description
}

// Nodes returns the workflow nodes in declaration order
func (w *Workflow) Nodes() []*Node {
	return w.nodes
}

// Edges returns the workflow edges
func (w *Workflow) Edges() []*Edge {
	return w.edges
}

// Settings returns the workflow settings
func (w *Workflow) Settings() Settings {
	return w.settings
}

// Active reports whether the workflow is eligible for scheduled activation
func (w *Workflow) Active() bool {
	return w.active
}

// SetActive toggles the workflow's active flag
func (w *Workflow) SetActive(active bool) {
	w.active = active
}

// SetSchedules replaces the workflow's schedule specs
func (w *Workflow) SetSchedules(specs []ScheduleSpec) {
	w.settings.Schedules = specs
}

// GetNode returns a node by id
func (w *Workflow) GetNode(id string) (*Node, bool) {
	node, ok := w.nodesByID[id]
	return node, ok
}

// NodeIDs returns the ids of all nodes in the workflow, sorted
func (w *Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w.nodesByID))
	for id := range w.nodesByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InboundEdges returns the edges pointing at the given node id
func (w *Workflow) InboundEdges(nodeID string) []*Edge {
	var inbound []*Edge
	for _, edge := range w.edges {
		if edge.Target == nodeID {
			inbound = append(inbound, edge)
		}
	}
	return inbound
}

// nodeOptions returns a node's options with workflow defaults applied.
func (w *Workflow) nodeOptions(node *Node) NodeOptions {
	opts := node.Options
	if opts.Retries == 0 {
		opts.Retries = w.settings.DefaultRetries
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = w.settings.DefaultTimeoutMs
	}
	if opts.BackoffMs == 0 {
		opts.BackoffMs = w.settings.DefaultBackoffMs
	}
	return opts
}

// LoadFile loads a workflow from a YAML file
func LoadFile(path string) (*Workflow, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a workflow from a YAML string
func LoadString(data string) (*Workflow, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	return New(opts)
}

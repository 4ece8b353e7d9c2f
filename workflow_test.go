package conveyor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkflowValidation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "name required")

	_, err = New(Options{Name: "empty"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one node")

	_, err = New(Options{Name: "wf", Nodes: []*Node{{Type: "noop"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "node id required")

	_, err = New(Options{Name: "wf", Nodes: []*Node{{ID: "a"}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no type")

	_, err = New(Options{Name: "wf", Nodes: []*Node{
		{ID: "a", Type: "noop"},
		{ID: "a", Type: "noop"},
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate node id")

	_, err = New(Options{
		Name:  "wf",
		Nodes: []*Node{{ID: "a", Type: "noop"}},
		Edges: []*Edge{{Source: "a", Target: "ghost"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestWorkflowIDDefaultsToName(t *testing.T) {
	wf, err := New(Options{Name: "orders", Nodes: []*Node{{ID: "a", Type: "noop"}}})
	require.NoError(t, err)
	require.Equal(t, "orders", wf.ID())

	wf, err = New(Options{ID: "wf_1", Name: "orders", Nodes: []*Node{{ID: "a", Type: "noop"}}})
	require.NoError(t, err)
	require.Equal(t, "wf_1", wf.ID())
}

func TestNodeOptionsInheritDefaults(t *testing.T) {
	wf, err := New(Options{
		Name: "wf",
		Nodes: []*Node{
			{ID: "plain", Type: "noop"},
			{ID: "custom", Type: "noop", Options: NodeOptions{Retries: 5, TimeoutMs: 10}},
		},
		Settings: Settings{
			DefaultRetries:   2,
			DefaultTimeoutMs: 3000,
			DefaultBackoffMs: 100,
		},
	})
	require.NoError(t, err)

	plain, _ := wf.GetNode("plain")
	opts := wf.nodeOptions(plain)
	require.Equal(t, 2, opts.Retries)
	require.Equal(t, 3000, opts.TimeoutMs)
	require.Equal(t, 100, opts.BackoffMs)

	custom, _ := wf.GetNode("custom")
	opts = wf.nodeOptions(custom)
	require.Equal(t, 5, opts.Retries)
	require.Equal(t, 10, opts.TimeoutMs)
	require.Equal(t, 100, opts.BackoffMs)
}

func TestInboundEdges(t *testing.T) {
	wf, err := New(Options{
		Name: "wf",
		Nodes: []*Node{
			{ID: "a", Type: "noop"},
			{ID: "b", Type: "noop"},
			{ID: "c", Type: "noop"},
		},
		Edges: []*Edge{
			{Source: "a", Target: "c"},
			{Source: "b", Target: "c"},
		},
	})
	require.NoError(t, err)
	require.Len(t, wf.InboundEdges("c"), 2)
	require.Empty(t, wf.InboundEdges("a"))
}

func TestLoadStringYAML(t *testing.T) {
	wf, err := LoadString(`
name: "Order Pipeline"
id: orders
description: "Processes incoming orders"
active: true
settings:
  concurrency: 4
  default_retries: 2
  schedules:
    - interval: 5
      unit: minutes
      input:
        source: schedule
nodes:
  - id: start
    type: trigger
  - id: check
    type: if
    config:
      value: "{{$json.amount}}"
      operator: gt
      compare: 100
    options:
      retries: 1
      timeout_ms: 500
edges:
  - source: start
    target: check
    condition: ""
    mappings:
      amount: "{{$json.amount}}"
`)
	require.NoError(t, err)
	require.Equal(t, "orders", wf.ID())
	require.Equal(t, "Order Pipeline", wf.Name())
	require.True(t, wf.Active())
	require.Equal(t, 4, wf.Settings().Concurrency)
	require.Len(t, wf.Settings().Schedules, 1)
	require.Equal(t, "minutes", wf.Settings().Schedules[0].Unit)
	require.Len(t, wf.Nodes(), 2)

	check, ok := wf.GetNode("check")
	require.True(t, ok)
	require.Equal(t, "if", check.Type)
	require.Equal(t, "gt", check.Config["operator"])
	require.Equal(t, 1, check.Options.Retries)

	require.Len(t, wf.Edges(), 1)
	require.Equal(t, "{{$json.amount}}", wf.Edges()[0].Mappings["amount"])
}

func TestLoadStringRejectsBadYAML(t *testing.T) {
	_, err := LoadString("nodes: [")
	require.Error(t, err)

	// Valid YAML that fails workflow validation.
	_, err = LoadString("name: wf\nnodes: []")
	require.Error(t, err)
}

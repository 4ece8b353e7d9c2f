package conveyor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// CoordinatorOptions configures a new run coordinator
type CoordinatorOptions struct {
	Workflow    *Workflow
	Registry    *Registry
	Input       map[string]any
	Variables   map[string]any
	Credentials map[string]any
	Logger      *slog.Logger
	NodeLogger  NodeLogger
	Callbacks   RunCallbacks
	Store       RunStore
	RunID       string
}

// Coordinator drives a validated, planned graph to completion and produces
// the run record. Ready nodes execute concurrently up to the workflow's
// concurrency cap; the coordinator reacts to each completion individually
// rather than waiting for a full wave.
type Coordinator struct {
	workflow   *Workflow
	registry   *Registry
	state      *runState
	variables  map[string]any
	creds      map[string]any
	logger     *slog.Logger
	nodeLogger NodeLogger
	callbacks  RunCallbacks
	store      RunStore

	// Bounded-concurrency slot pool; nil means unbounded.
	slots chan struct{}

	// completions carries one message per node that reached a terminal
	// state. Only the coordinator loop reads it, which keeps all run
	// state mutation on a single writer.
	completions chan nodeCompletion

	// Scheduling bookkeeping, touched only by the coordinator loop.
	remaining map[string]int
	satisfied map[string]int
	launched  map[string]bool
	inFlight  int

	mutex   sync.Mutex
	started bool
	doneWg  sync.WaitGroup
}

// nodeCompletion is the terminal report for one node: either a recorded
// result (possibly a tolerated failure) or a fatal error that fails the run.
type nodeCompletion struct {
	nodeID string
	result *NodeResult
	output any
	branch string
	fatal  error
}

// NewCoordinator creates a run coordinator for one workflow run.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Workflow == nil {
		return nil, NewValidationError("workflow is required")
	}
	if opts.Registry == nil {
		return nil, NewValidationError("registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NodeLogger == nil {
		opts.NodeLogger = NewNullNodeLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseRunCallbacks{}
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}

	var slots chan struct{}
	if limit := opts.Workflow.Settings().Concurrency; limit > 0 {
		slots = make(chan struct{}, limit)
	}

	return &Coordinator{
		workflow:    opts.Workflow,
		registry:    opts.Registry,
		state:       newRunState(opts.RunID, opts.Workflow.ID(), opts.Input),
		variables:   copyMap(opts.Variables),
		creds:       copyMap(opts.Credentials),
		logger:      opts.Logger.With("run_id", opts.RunID),
		nodeLogger:  opts.NodeLogger,
		callbacks:   opts.Callbacks,
		store:       opts.Store,
		slots:       slots,
		completions: make(chan nodeCompletion, len(opts.Workflow.Nodes())),
		remaining:   map[string]int{},
		satisfied:   map[string]int{},
		launched:    map[string]bool{},
	}, nil
}

// RunID returns the run ID
func (c *Coordinator) RunID() string {
	return c.state.RunID()
}

// Status returns the current run status
func (c *Coordinator) Status() RunStatus {
	return c.state.GetStatus()
}

func (c *Coordinator) start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.started {
		return fmt.Errorf("run already started")
	}
	c.started = true
	return nil
}

// Run executes the workflow to completion and returns the run result.
// The returned error is the run-fatal error, if any; node-level failures
// that were tolerated appear only in the result's node records.
func (c *Coordinator) Run(ctx context.Context) (*RunResult, error) {
	if err := c.start(); err != nil {
		return nil, err
	}

	c.state.SetStarted(time.Now())
	c.callbacks.BeforeRunExecution(ctx, &RunExecutionEvent{
		RunID:      c.state.RunID(),
		WorkflowID: c.workflow.ID(),
		Status:     c.state.GetStatus(),
		StartTime:  c.state.GetStartTime(),
		Input:      c.state.GetInput(),
		NodeCount:  len(c.workflow.Nodes()),
	})
	if c.store != nil {
		if err := c.store.SaveRun(ctx, c.state.ToRun()); err != nil {
			c.logger.Warn("failed to save initial run record", "error", err)
		}
	}

	finalErr := c.run(ctx)
	result := c.state.ToResult()

	endTime := time.Now()
	c.callbacks.AfterRunExecution(ctx, &RunExecutionEvent{
		RunID:      c.state.RunID(),
		WorkflowID: c.workflow.ID(),
		Status:     c.state.GetStatus(),
		StartTime:  c.state.GetStartTime(),
		EndTime:    endTime,
		Duration:   endTime.Sub(c.state.GetStartTime()),
		Input:      c.state.GetInput(),
		Output:     result.Output,
		NodeCount:  len(result.NodeResults),
		Error:      finalErr,
	})
	if c.store != nil {
		if err := c.store.SaveRun(ctx, c.state.ToRun()); err != nil {
			c.logger.Error("failed to save final run record", "error", err)
		}
	}
	return result, finalErr
}

// run drives the scheduling loop. It owns every mutation of the run state.
func (c *Coordinator) run(ctx context.Context) error {
	plan, err := c.plan()
	if err != nil {
		c.logger.Error("planning failed", "error", err)
		c.state.SetFinished(RunStatusFailed, time.Now(), err)
		return err
	}

	for _, node := range c.workflow.Nodes() {
		c.remaining[node.ID] = len(plan.Inbound[node.ID])
	}

	var fatalErr error
	cancelled := false

	// Seed the ready set with zero-dependency nodes, in plan order.
	for _, nodeID := range plan.Order {
		if c.remaining[nodeID] == 0 {
			c.setNodeReady(ctx, plan, nodeID, true)
		}
	}

	for c.inFlight > 0 {
		select {
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				c.logger.Info("run cancellation requested", "in_flight", c.inFlight)
			}
			// Keep draining: in-flight executors observe the same ctx and
			// wind down on their own. Nothing new is scheduled once the
			// launch guard sees the cancellation.
			completion := <-c.completions
			c.inFlight--
			c.recordCompletion(completion)
		case completion := <-c.completions:
			c.inFlight--
			c.recordCompletion(completion)
			if completion.fatal != nil {
				if fatalErr == nil {
					fatalErr = completion.fatal
					c.logger.Error("node failed, no further nodes will be scheduled",
						"node_id", completion.nodeID, "error", completion.fatal)
				}
				continue
			}
			if fatalErr == nil && !cancelled {
				c.unlockDependents(ctx, plan, completion)
			}
		}
	}
	c.doneWg.Wait()

	if ctx.Err() != nil {
		cancelled = true
	}

	endTime := time.Now()
	switch {
	case cancelled && (fatalErr == nil || MatchesErrorType(fatalErr, ErrorTypeCancelled)):
		fatalErr = &Error{Type: ErrorTypeCancelled, Cause: "run cancelled", Wrapped: ctx.Err()}
		c.state.SetFinished(RunStatusCancelled, endTime, fatalErr)
		c.logger.Info("run cancelled")
	case fatalErr != nil:
		c.state.SetFinished(RunStatusFailed, endTime, fatalErr)
		c.logger.Error("run failed", "error", fatalErr)
	default:
		c.state.SetFinished(RunStatusCompleted, endTime, nil)
		c.logger.Info("run completed")
	}

	// The run output is the output of the last executed node.
	if order := c.state.ToRun().ExecutionOrder; len(order) > 0 {
		outputs := c.state.NodeOutputsSnapshot()
		c.state.SetRunOutput(outputs[order[len(order)-1]])
	}
	return fatalErr
}

// plan validates the graph and node types before anything executes.
func (c *Coordinator) plan() (*Plan, error) {
	for _, node := range c.workflow.Nodes() {
		if _, ok := c.registry.Get(node.Type); !ok {
			return nil, NewValidationError("node %q has unknown type %q", node.ID, node.Type)
		}
		if errs := c.registry.Validate(node.Type, node.Config); len(errs) > 0 {
			return nil, NewValidationError("node %q config invalid: %v", node.ID, errs[0])
		}
	}
	return planGraph(c.workflow.Nodes(), c.workflow.Edges())
}

// setNodeReady dispatches a node whose dependencies are all accounted for.
// satisfiable=false means no inbound edge was actually followed and the
// node is skipped instead of executed.
func (c *Coordinator) setNodeReady(ctx context.Context, plan *Plan, nodeID string, satisfiable bool) {
	if c.launched[nodeID] {
		// At-most-once dispatch, covering execute, skip and disabled
		// outcomes alike. A cascade from a zero-dependency node can
		// resolve a node that the seed loop has not reached yet; without
		// the guard the seed loop would dispatch it a second time. This
		// is also the executeOnce guarantee.
		return
	}
	c.launched[nodeID] = true

	node, _ := c.workflow.GetNode(nodeID)
	opts := c.workflow.nodeOptions(node)

	if !satisfiable {
		c.skipNode(ctx, plan, node, opts)
		return
	}
	if opts.Disabled {
		c.passOverDisabled(ctx, plan, node, opts)
		return
	}
	c.inFlight++
	c.doneWg.Add(1)
	go func() {
		defer c.doneWg.Done()
		c.executeNode(ctx, node, opts, plan.Inbound[nodeID])
	}()
}

// skipNode marks a node skipped because no selected path reaches it, then
// lets its dependents resolve without it. Skips cascade: a dependent whose
// inbound edges all came through skipped nodes is skipped in turn.
func (c *Coordinator) skipNode(ctx context.Context, plan *Plan, node *Node, opts NodeOptions) {
	c.state.RecordSkipped(node.ID)
	if opts.AlwaysOutputData {
		// Downstream mappings read an empty output instead of "missing".
		c.state.PublishOutput(node.ID, map[string]any{})
	}
	c.logger.Debug("node skipped", "node_id", node.ID)
	for _, nodeID := range c.propagate(plan, node.ID, "", false) {
		c.setNodeReady(ctx, plan, nodeID, c.satisfied[nodeID] > 0)
	}
}

// passOverDisabled records a disabled node without executing it. Its
// dependents still run, as if the node completed with no output.
func (c *Coordinator) passOverDisabled(ctx context.Context, plan *Plan, node *Node, opts NodeOptions) {
	if opts.AlwaysOutputData {
		c.state.RecordNodeResult(&NodeResult{
			NodeID:    node.ID,
			NodeType:  node.Type,
			Success:   true,
			Output:    map[string]any{},
			Timestamp: time.Now(),
		}, map[string]any{})
	} else {
		c.state.RecordSkipped(node.ID)
	}
	c.logger.Debug("node disabled", "node_id", node.ID)
	for _, nodeID := range c.propagate(plan, node.ID, "", true) {
		c.setNodeReady(ctx, plan, nodeID, c.satisfied[nodeID] > 0)
	}
}

// recordCompletion publishes a node's terminal state into the run record.
func (c *Coordinator) recordCompletion(completion nodeCompletion) {
	if completion.result != nil {
		c.state.RecordNodeResult(completion.result, completion.output)
	}
}

// unlockDependents reacts to one node reaching a terminal, non-fatal state.
func (c *Coordinator) unlockDependents(ctx context.Context, plan *Plan, completion nodeCompletion) {
	newlyResolved := c.propagate(plan, completion.nodeID, completion.branch, true)
	for _, nodeID := range newlyResolved {
		c.setNodeReady(ctx, plan, nodeID, c.satisfied[nodeID] > 0)
	}
}

// propagate resolves the outgoing edges of a finished (or skipped) node and
// returns the dependents whose inbound edges are now all accounted for, in
// plan order. followed=false means the node itself never ran, so none of
// its edges are satisfied.
func (c *Coordinator) propagate(plan *Plan, nodeID, branch string, followed bool) []string {
	resolvedSet := map[string]bool{}
	for _, edge := range plan.Adjacency[nodeID] {
		if followed && edgeSelected(edge, branch) {
			c.satisfied[edge.Target]++
		}
		c.remaining[edge.Target]--
		if c.remaining[edge.Target] == 0 {
			resolvedSet[edge.Target] = true
		}
	}
	if len(resolvedSet) == 0 {
		return nil
	}
	var resolved []string
	for _, id := range plan.Order {
		if resolvedSet[id] {
			resolved = append(resolved, id)
		}
	}
	return resolved
}

// edgeSelected reports whether an edge follows the branch a node selected.
// Unconditional edges are always followed.
func edgeSelected(edge *Edge, branch string) bool {
	if edge.Condition == "" || branch == "" {
		return true
	}
	return edge.Condition == branch
}

// executeNode runs one node with retry, backoff and timeout policy, then
// reports a single terminal completion. Retries are local to the node and
// invisible to downstream nodes except through elapsed time.
func (c *Coordinator) executeNode(ctx context.Context, node *Node, opts NodeOptions, inbound []*Edge) {
	if c.slots != nil {
		select {
		case c.slots <- struct{}{}:
			defer func() { <-c.slots }()
		case <-ctx.Done():
			c.completions <- nodeCompletion{
				nodeID: node.ID,
				fatal:  ClassifyError(ctx.Err()),
			}
			return
		}
	}

	executor, _ := c.registry.Get(node.Type)
	ec := buildExecutionContext(node, c.state, inbound, c.variables, c.creds)
	ctx = WithLogger(ctx, c.logger.With("node_id", node.ID))

	attempts := opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, branch, err := c.attemptNode(ctx, executor, node, ec, opts, attempt)
		if err == nil {
			c.completions <- nodeCompletion{
				nodeID: node.ID,
				result: result,
				output: result.Output,
				branch: branch,
			}
			return
		}
		lastErr = err

		// Run-level cancellation is not retried.
		if MatchesErrorType(err, ErrorTypeCancelled) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			// Exponential backoff: BackoffMs doubles with each attempt.
			delay := time.Duration(opts.BackoffMs) * time.Millisecond << (attempt - 1)
			c.logger.Debug("retrying node",
				"node_id", node.ID, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ClassifyError(ctx.Err())
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	if opts.Retries > 0 && ctx.Err() == nil {
		lastErr = &Error{
			Type:    ErrorTypeRetryExhausted,
			Cause:   fmt.Sprintf("node %q failed after %d attempts: %v", node.ID, attempts, lastErr),
			Wrapped: lastErr,
		}
	}

	failure := &NodeResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Success:   false,
		Error:     lastErr.Error(),
		Timestamp: time.Now(),
	}

	if opts.ContinueOnError {
		// The failure stays recorded; downstream nodes read an error
		// marker instead of the run failing.
		c.completions <- nodeCompletion{
			nodeID: node.ID,
			result: failure,
			output: errorMarkerOutput(lastErr),
		}
		return
	}
	c.completions <- nodeCompletion{
		nodeID: node.ID,
		result: failure,
		fatal:  lastErr,
	}
}

// attemptNode performs a single executor call under the node's deadline and
// normalizes the two failure forms (returned failure result, raised error)
// into one.
func (c *Coordinator) attemptNode(ctx context.Context, executor Executor, node *Node, ec *ExecutionContext, opts NodeOptions, attempt int) (*NodeResult, string, error) {
	callCtx := ctx
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	startTime := time.Now()
	event := &NodeExecutionEvent{
		RunID:      c.state.RunID(),
		WorkflowID: c.workflow.ID(),
		NodeID:     node.ID,
		NodeType:   node.Type,
		Attempt:    attempt,
		Input:      ec.Input,
		StartTime:  startTime,
	}
	c.callbacks.BeforeNodeExecution(ctx, event)

	result, err := executor.Execute(callCtx, ec)
	endTime := time.Now()
	duration := endTime.Sub(startTime)

	// Normalize: a nil result with no error is an executor bug, a returned
	// failure result and a raised error collapse into the same shape.
	if err == nil && result == nil {
		err = NewError(ErrorTypeNodeExecution, fmt.Sprintf("executor %q returned no result", node.Type))
	}
	if err == nil && !result.Success {
		cause := result.Error
		if cause == "" {
			cause = "executor reported failure"
		}
		err = NewError(ErrorTypeNodeExecution, cause)
	}
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		err = ClassifyError(err)
	}

	event.EndTime = endTime
	event.Duration = duration
	event.Error = err
	if result != nil {
		event.Output = result.Output
	}
	c.callbacks.AfterNodeExecution(ctx, event)

	logEntry := &NodeLogEntry{
		RunID:      c.state.RunID(),
		WorkflowID: c.workflow.ID(),
		NodeID:     node.ID,
		NodeType:   node.Type,
		Attempt:    attempt,
		Input:      ec.Input,
		StartTime:  startTime,
		Duration:   duration.Seconds(),
	}
	if result != nil {
		logEntry.Output = result.Output
	}
	if err != nil {
		logEntry.Error = err.Error()
	}
	if logErr := c.nodeLogger.LogNode(ctx, logEntry); logErr != nil {
		c.logger.Error("failed to log node attempt", "error", logErr)
	}

	if err != nil {
		return nil, "", err
	}
	return &NodeResult{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Success:   true,
		Output:    result.Output,
		Timestamp: startTime,
		Duration:  duration,
	}, result.Branch, nil
}

// errorMarkerOutput is the synthesized nodeOutputs entry for a tolerated
// failure, so downstream mappings can read the failure shape.
func errorMarkerOutput(err error) map[string]any {
	classified := ClassifyError(err)
	return map[string]any{
		"error":      classified.Cause,
		"error_type": classified.Type,
	}
}

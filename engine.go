package conveyor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/deepnoodle-ai/conveyor/queue"
	"github.com/deepnoodle-ai/conveyor/schedule"
)

// EngineOptions configure an Engine. Registry is the only near-mandatory
// piece; everything else has a working default. A nil Dispatcher disables
// queued execution and makes schedule firings run workflows directly.
type EngineOptions struct {
	Registry    *Registry
	Store       RunStore
	Dispatcher  *queue.Dispatcher
	Logger      *slog.Logger
	NodeLogger  NodeLogger
	Callbacks   RunCallbacks
	Variables   map[string]any
	Credentials map[string]any

	// WorkflowWorkers is the worker count for the workflow queue lane.
	// Defaults to 4. Ignored without a Dispatcher.
	WorkflowWorkers int
}

// Engine ties the pieces together: it owns the workflow catalog, executes
// runs through coordinators, dispatches queued runs, and fires schedules.
// It is the composition root an embedding application talks to.
type Engine struct {
	registry   *Registry
	store      RunStore
	dispatcher *queue.Dispatcher
	scheduler  *schedule.Scheduler
	logger     *slog.Logger
	nodeLogger NodeLogger
	callbacks  RunCallbacks
	variables  map[string]any
	creds      map[string]any

	mutex     sync.RWMutex
	workflows map[string]*Workflow
	started   bool
}

// NewEngine creates an Engine from its options.
func NewEngine(opts EngineOptions) (*Engine, error) {
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryRunStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nodeLogger := opts.NodeLogger
	if nodeLogger == nil {
		nodeLogger = NewNullNodeLogger()
	}
	callbacks := opts.Callbacks
	if callbacks == nil {
		callbacks = &BaseRunCallbacks{}
	}

	engine := &Engine{
		registry:   registry,
		store:      store,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		nodeLogger: nodeLogger,
		callbacks:  callbacks,
		variables:  opts.Variables,
		creds:      opts.Credentials,
		workflows:  map[string]*Workflow{},
	}

	scheduler, err := schedule.NewScheduler(schedule.SchedulerOptions{
		Trigger: engine.scheduleFired,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	engine.scheduler = scheduler

	if engine.dispatcher != nil {
		workers := opts.WorkflowWorkers
		if workers <= 0 {
			workers = 4
		}
		if err := engine.dispatcher.Register(queue.LaneWorkflow, workers, engine.handleWorkflowJob); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// Start launches the dispatcher workers and the schedule runner.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	if e.started {
		e.mutex.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mutex.Unlock()

	if e.dispatcher != nil {
		if err := e.dispatcher.Start(ctx); err != nil {
			return err
		}
	}
	e.scheduler.Start()
	e.logger.Info("engine started")
	return nil
}

// Stop halts schedule firing before draining queue workers, so no new
// runs are enqueued while in-flight ones finish.
func (e *Engine) Stop() {
	e.mutex.Lock()
	if !e.started {
		e.mutex.Unlock()
		return
	}
	e.started = false
	e.mutex.Unlock()

	e.scheduler.Stop()
	if e.dispatcher != nil {
		e.dispatcher.Stop()
	}
	e.logger.Info("engine stopped")
}

// AddWorkflow registers a workflow with the engine. Active workflows get
// their schedules registered immediately.
func (e *Engine) AddWorkflow(workflow *Workflow) error {
	e.mutex.Lock()
	if _, exists := e.workflows[workflow.ID()]; exists {
		e.mutex.Unlock()
		return NewValidationError("workflow %q already added", workflow.ID())
	}
	e.workflows[workflow.ID()] = workflow
	e.mutex.Unlock()

	if workflow.Active() {
		return e.registerSchedules(workflow)
	}
	return nil
}

// RemoveWorkflow drops a workflow and its schedules. Stored runs are kept.
func (e *Engine) RemoveWorkflow(workflowID string) {
	e.mutex.Lock()
	delete(e.workflows, workflowID)
	e.mutex.Unlock()
	e.scheduler.Unregister(workflowID)
}

// Workflow returns a registered workflow by ID.
func (e *Engine) Workflow(workflowID string) (*Workflow, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	workflow, ok := e.workflows[workflowID]
	return workflow, ok
}

// SetWorkflowActive toggles a workflow's active flag. Activation registers
// its schedules; deactivation removes them. Manual execution stays
// available either way.
func (e *Engine) SetWorkflowActive(workflowID string, active bool) error {
	workflow, ok := e.Workflow(workflowID)
	if !ok {
		return NewValidationError("workflow %q not found", workflowID)
	}
	workflow.SetActive(active)
	if active {
		return e.registerSchedules(workflow)
	}
	e.scheduler.Unregister(workflowID)
	return nil
}

// UpdateWorkflowSchedules replaces a workflow's schedule specs. Adding the
// first schedule to a schedule-less workflow activates it; removing the
// last one drops its timers. Replacing existing specs swaps the timers
// atomically rather than stacking duplicates.
func (e *Engine) UpdateWorkflowSchedules(workflowID string, specs []ScheduleSpec) error {
	workflow, ok := e.Workflow(workflowID)
	if !ok {
		return NewValidationError("workflow %q not found", workflowID)
	}
	hadSchedules := len(workflow.Settings().Schedules) > 0
	workflow.SetSchedules(specs)

	if len(specs) == 0 {
		e.scheduler.Unregister(workflowID)
		return nil
	}
	if !hadSchedules && !workflow.Active() {
		workflow.SetActive(true)
	}
	if workflow.Active() {
		return e.registerSchedules(workflow)
	}
	return nil
}

func (e *Engine) registerSchedules(workflow *Workflow) error {
	specs := workflow.Settings().Schedules
	if len(specs) == 0 {
		return nil
	}
	converted := make([]schedule.Spec, 0, len(specs))
	for _, spec := range specs {
		converted = append(converted, schedule.Spec{
			Cron:     spec.Cron,
			Interval: spec.Interval,
			Unit:     spec.Unit,
			Timezone: spec.Timezone,
			Input:    spec.Input,
		})
	}
	_, err := e.scheduler.Register(workflow.ID(), converted)
	return err
}

// ExecuteWorkflow runs a workflow synchronously and returns its result.
// Inactive workflows may be executed this way; the active flag gates only
// schedules and webhooks.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*RunResult, error) {
	workflow, ok := e.Workflow(workflowID)
	if !ok {
		return nil, NewValidationError("workflow %q not found", workflowID)
	}
	coordinator, err := NewCoordinator(CoordinatorOptions{
		Workflow:    workflow,
		Registry:    e.registry,
		Input:       input,
		Variables:   e.variables,
		Credentials: e.creds,
		Logger:      e.logger,
		NodeLogger:  e.nodeLogger,
		Callbacks:   e.callbacks,
		Store:       e.store,
	})
	if err != nil {
		return nil, err
	}
	return coordinator.Run(ctx)
}

// SubmitRun enqueues a workflow run on the workflow lane and returns the
// queued job. The run executes when a worker claims it.
func (e *Engine) SubmitRun(workflowID string, input map[string]any, opts queue.JobOptions) (*queue.Job, error) {
	if e.dispatcher == nil {
		return nil, NewValidationError("queued execution requires a dispatcher")
	}
	if _, ok := e.Workflow(workflowID); !ok {
		return nil, NewValidationError("workflow %q not found", workflowID)
	}
	return e.dispatcher.Submit(queue.LaneWorkflow, map[string]any{
		"workflow_id": workflowID,
		"input":       input,
	}, opts)
}

// TriggerWebhook enqueues a run for an active workflow in response to an
// external event. The payload becomes the run input.
func (e *Engine) TriggerWebhook(workflowID string, payload map[string]any) (*queue.Job, error) {
	workflow, ok := e.Workflow(workflowID)
	if !ok {
		return nil, NewValidationError("workflow %q not found", workflowID)
	}
	if !workflow.Active() {
		return nil, NewValidationError("workflow %q is not active", workflowID)
	}
	return e.SubmitRun(workflowID, payload, queue.JobOptions{})
}

// GetRun loads a stored run record.
func (e *Engine) GetRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	return e.store.GetRun(ctx, runID)
}

// ListRuns lists stored run summaries, newest first.
func (e *Engine) ListRuns(ctx context.Context, workflowID string) ([]*RunSummary, error) {
	return e.store.ListRuns(ctx, workflowID)
}

// handleWorkflowJob executes one queued run. A fatal run error is returned
// to the dispatcher so the job's retry policy applies.
func (e *Engine) handleWorkflowJob(ctx context.Context, job *queue.Job) error {
	workflowID, _ := job.Data["workflow_id"].(string)
	if workflowID == "" {
		return fmt.Errorf("job %s has no workflow_id", job.ID)
	}
	input, _ := job.Data["input"].(map[string]any)

	result, err := e.ExecuteWorkflow(ctx, workflowID, input)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run %s failed: %s", result.RunID, result.Error)
	}
	e.logger.Info("queued run completed",
		"job_id", job.ID,
		"run_id", result.RunID,
		"workflow_id", workflowID)
	return nil
}

// scheduleFired handles a schedule firing. With a dispatcher the run is
// enqueued; without one it executes inline.
func (e *Engine) scheduleFired(ctx context.Context, workflowID string, input map[string]any) {
	if e.dispatcher != nil {
		if _, err := e.SubmitRun(workflowID, input, queue.JobOptions{}); err != nil {
			e.logger.Error("failed to enqueue scheduled run",
				"workflow_id", workflowID, "error", err)
		}
		return
	}
	result, err := e.ExecuteWorkflow(ctx, workflowID, input)
	if err != nil {
		e.logger.Error("scheduled run failed",
			"workflow_id", workflowID, "error", err)
		return
	}
	e.logger.Info("scheduled run finished",
		"workflow_id", workflowID,
		"run_id", result.RunID,
		"success", result.Success)
}

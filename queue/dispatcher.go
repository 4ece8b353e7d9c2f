package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one claimed job. A nil return completes the job; an
// error triggers retry or dead-lettering per the job's options.
type Handler func(ctx context.Context, job *Job) error

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Store  *Store
	Logger *slog.Logger

	// PollInterval is how long an idle worker waits before checking its
	// lane again. Defaults to 100ms.
	PollInterval time.Duration

	// RetryBackoff is the base delay before a failed job becomes eligible
	// again. It doubles with each failed attempt. Defaults to 1s.
	RetryBackoff time.Duration
}

type laneWorkers struct {
	handler Handler
	count   int
}

// Dispatcher runs worker pools over the lanes of a Store. Each worker
// claims jobs one at a time and feeds them to the lane's handler.
type Dispatcher struct {
	store        *Store
	logger       *slog.Logger
	pollInterval time.Duration
	retryBackoff time.Duration

	mutex   sync.Mutex
	lanes   map[string]*laneWorkers
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher over the given store.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	return &Dispatcher{
		store:        opts.Store,
		logger:       logger,
		pollInterval: pollInterval,
		retryBackoff: retryBackoff,
		lanes:        map[string]*laneWorkers{},
	}, nil
}

// Register attaches a handler and worker count to a lane. Must be called
// before Start.
func (d *Dispatcher) Register(lane string, workers int, handler Handler) error {
	if lane == "" {
		return errors.New("lane name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	if workers <= 0 {
		workers = 1
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	if _, exists := d.lanes[lane]; exists {
		return fmt.Errorf("lane already registered: %q", lane)
	}
	d.lanes[lane] = &laneWorkers{handler: handler, count: workers}
	return nil
}

// Submit enqueues a job onto a lane. The lane does not need a registered
// handler at submit time.
func (d *Dispatcher) Submit(lane string, data map[string]any, opts JobOptions) (*Job, error) {
	job := NewJob(lane, data, opts)
	if err := d.store.Enqueue(job); err != nil {
		return nil, err
	}
	d.logger.Debug("job enqueued",
		"job_id", job.ID,
		"lane", lane,
		"priority", opts.Priority,
		"delay", opts.Delay)
	return job, nil
}

// Start launches the worker pools. Workers stop when Stop is called or the
// context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}
	d.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for lane, pool := range d.lanes {
		for i := 0; i < pool.count; i++ {
			d.wg.Add(1)
			go d.worker(workerCtx, lane, pool.handler)
		}
	}
	return nil
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mutex.Lock()
	if !d.started {
		d.mutex.Unlock()
		return
	}
	cancel := d.cancel
	d.mutex.Unlock()
	cancel()
	d.wg.Wait()
	d.mutex.Lock()
	d.started = false
	d.mutex.Unlock()
}

// Pause stops claiming on a lane. In-flight jobs are unaffected.
func (d *Dispatcher) Pause(lane string) error {
	return d.store.Pause(lane)
}

// Resume re-enables claiming on a lane.
func (d *Dispatcher) Resume(lane string) error {
	return d.store.Resume(lane)
}

// Stats reports the job populations of a lane.
func (d *Dispatcher) Stats(lane string) (Stats, error) {
	return d.store.Stats(lane)
}

func (d *Dispatcher) worker(ctx context.Context, lane string, handler Handler) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := d.store.Claim(lane)
		if errors.Is(err, ErrNoJob) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}
		if err != nil {
			d.logger.Error("claim failed", "lane", lane, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}
		d.process(ctx, job, handler)
	}
}

func (d *Dispatcher) process(ctx context.Context, job *Job, handler Handler) {
	job.Attempts++
	err := handler(ctx, job)
	if err == nil {
		if err := d.store.Complete(job); err != nil {
			d.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
		}
		return
	}
	job.LastError = err.Error()
	if job.Attempts >= job.maxAttempts() {
		d.logger.Warn("job dead-lettered",
			"job_id", job.ID,
			"lane", job.Lane,
			"attempts", job.Attempts,
			"error", err)
		if err := d.store.DeadLetter(job); err != nil {
			d.logger.Error("failed to dead-letter job", "job_id", job.ID, "error", err)
		}
		return
	}
	delay := d.retryBackoff << (job.Attempts - 1)
	d.logger.Warn("job failed, retrying",
		"job_id", job.ID,
		"lane", job.Lane,
		"attempt", job.Attempts,
		"retry_in", delay,
		"error", err)
	if err := d.store.Retry(job, delay); err != nil {
		d.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
	}
}

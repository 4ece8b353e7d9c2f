// Package schedule turns workflow schedule definitions into timed trigger
// firings. Both raw cron expressions and simple intervals are supported;
// intervals are compiled down to cron expressions with stable random
// offsets so that many interval schedules do not all fire on the same
// second.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec describes one schedule attached to a workflow. Either Cron or
// Interval+Unit must be set.
type Spec struct {
	// Cron is a cron expression, five or six fields. Five-field
	// expressions fire at second zero.
	Cron string

	// Interval and Unit describe a fixed-rate schedule, e.g. every 5
	// minutes. Unit is one of "seconds", "minutes", "hours", "days".
	Interval int
	Unit     string

	// Timezone names the IANA zone the expression is evaluated in.
	// Empty means local time.
	Timezone string

	// Input is the run input passed to the trigger on every firing.
	Input map[string]any
}

// Trigger is invoked on every firing of a registered schedule.
type Trigger func(ctx context.Context, workflowID string, input map[string]any)

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Trigger Trigger
	Logger  *slog.Logger
}

// Scheduler owns a cron runner and the schedule entries of registered
// workflows. Registration is idempotent per workflow: re-registering
// replaces all of a workflow's entries.
type Scheduler struct {
	cron    *cron.Cron
	trigger Trigger
	logger  *slog.Logger
	rand    *rand.Rand

	mutex   sync.Mutex
	entries map[string][]cron.EntryID
	offsets map[string]intervalOffsets
	started bool
}

// intervalOffsets are the random offsets drawn once per workflow and then
// reused, so that re-registering an interval schedule compiles to the same
// expression and keeps its firing phase.
type intervalOffsets struct {
	second int
	minute int
	hour   int
}

// NewScheduler creates a Scheduler. The trigger is required.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Trigger == nil {
		return nil, errors.New("trigger is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		trigger: opts.Trigger,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: map[string][]cron.EntryID{},
		offsets: map[string]intervalOffsets{},
	}, nil
}

// Register attaches schedules to a workflow, replacing any existing ones.
// It returns the compiled cron expressions, one per spec.
func (s *Scheduler) Register(workflowID string, specs []Spec) ([]string, error) {
	if workflowID == "" {
		return nil, errors.New("workflow id is required")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expressions := make([]string, 0, len(specs))
	ids := make([]cron.EntryID, 0, len(specs))
	for i, spec := range specs {
		expression, err := s.compile(workflowID, spec)
		if err != nil {
			for _, id := range ids {
				s.cron.Remove(id)
			}
			return nil, fmt.Errorf("schedule %d for workflow %q: %w", i, workflowID, err)
		}
		input := spec.Input
		id, err := s.cron.AddFunc(expression, func() {
			s.fire(workflowID, input)
		})
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return nil, fmt.Errorf("schedule %d for workflow %q: %w", i, workflowID, err)
		}
		ids = append(ids, id)
		expressions = append(expressions, expression)
	}

	for _, id := range s.entries[workflowID] {
		s.cron.Remove(id)
	}
	if len(ids) > 0 {
		s.entries[workflowID] = ids
	} else {
		delete(s.entries, workflowID)
	}
	s.logger.Info("schedules registered",
		"workflow_id", workflowID,
		"count", len(ids))
	return expressions, nil
}

// Unregister removes all of a workflow's schedules.
func (s *Scheduler) Unregister(workflowID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, id := range s.entries[workflowID] {
		s.cron.Remove(id)
	}
	delete(s.entries, workflowID)
}

// Registered reports whether a workflow currently has schedules.
func (s *Scheduler) Registered(workflowID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries[workflowID]) > 0
}

// NextRuns returns the upcoming fire times of a workflow's schedules,
// one per entry. Zero times are returned before Start.
func (s *Scheduler) NextRuns(workflowID string) []time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var times []time.Time
	for _, id := range s.entries[workflowID] {
		times = append(times, s.cron.Entry(id).Next)
	}
	return times
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts firing and waits for in-flight trigger calls to return.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	s.mutex.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire(workflowID string, input map[string]any) {
	ctx := context.Background()
	s.logger.Debug("schedule fired", "workflow_id", workflowID)
	s.trigger(ctx, workflowID, input)
}

// compile turns a Spec into a six-field cron expression. Interval specs
// get random offsets in the positions below their unit so that firing is
// spread across the period instead of clustering at zero.
func (s *Scheduler) compile(workflowID string, spec Spec) (string, error) {
	var expression string
	switch {
	case spec.Cron != "":
		expression = strings.TrimSpace(spec.Cron)
		if len(strings.Fields(expression)) == 5 {
			expression = "0 " + expression
		}
	case spec.Interval > 0:
		compiled, err := s.intervalExpression(workflowID, spec.Interval, spec.Unit)
		if err != nil {
			return "", err
		}
		expression = compiled
	default:
		return "", errors.New("either cron or interval must be set")
	}
	if spec.Timezone != "" {
		if _, err := time.LoadLocation(spec.Timezone); err != nil {
			return "", fmt.Errorf("invalid timezone %q: %w", spec.Timezone, err)
		}
		expression = "CRON_TZ=" + spec.Timezone + " " + expression
	}
	return expression, nil
}

func (s *Scheduler) intervalExpression(workflowID string, interval int, unit string) (string, error) {
	offsets, ok := s.offsets[workflowID]
	if !ok {
		offsets = intervalOffsets{
			second: s.rand.Intn(60),
			minute: s.rand.Intn(60),
			hour:   s.rand.Intn(24),
		}
		s.offsets[workflowID] = offsets
	}
	switch unit {
	case "seconds":
		return fmt.Sprintf("*/%d * * * * *", interval), nil
	case "minutes", "":
		return fmt.Sprintf("%d */%d * * * *", offsets.second, interval), nil
	case "hours":
		return fmt.Sprintf("%d %d */%d * * *", offsets.second, offsets.minute, interval), nil
	case "days":
		return fmt.Sprintf("%d %d %d */%d * *", offsets.second, offsets.minute, offsets.hour, interval), nil
	default:
		return "", fmt.Errorf("unknown interval unit: %q", unit)
	}
}

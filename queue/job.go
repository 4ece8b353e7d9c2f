// Package queue provides typed, prioritized, delay-capable job queues that
// decouple the intent to run work from the moment it runs. Jobs are held in
// a badger-backed store; claims are transactional so two workers never
// process the same job concurrently.
package queue

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Lane names for the typed queues the engine dispatches on.
const (
	LaneWorkflow     = "workflow"
	LaneAgent        = "agent"
	LaneWebhook      = "webhook"
	LaneEmail        = "email"
	LaneNotification = "notification"
)

// JobOptions control scheduling and terminal-state policy for a job.
type JobOptions struct {
	// MaxAttempts caps handler invocations before the job is moved to the
	// dead-letter state. Zero means one attempt.
	MaxAttempts int `json:"attempts,omitempty"`

	// Delay holds the job back from claiming until it elapses.
	Delay time.Duration `json:"delay,omitempty"`

	// Priority orders claiming: lower values are claimed first.
	Priority int `json:"priority,omitempty"`

	// RemoveOnComplete drops the job record after success instead of
	// archiving it.
	RemoveOnComplete bool `json:"removeOnComplete,omitempty"`

	// RemoveOnFail drops the job record after the final failure instead
	// of dead-lettering it.
	RemoveOnFail bool `json:"removeOnFail,omitempty"`
}

// Job is one queued unit of work.
type Job struct {
	ID          string         `json:"id"`
	Lane        string         `json:"type"`
	Data        map[string]any `json:"data,omitempty"`
	Options     JobOptions     `json:"options"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	EligibleAt  time.Time      `json:"eligible_at"`
	ProcessedAt time.Time      `json:"processed_at"`
	FailedAt    time.Time      `json:"failed_at"`
}

// NewJob creates a job for a lane with the given payload and options.
func NewJob(lane string, data map[string]any, opts JobOptions) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.NewString(),
		Lane:       lane,
		Data:       data,
		Options:    opts,
		CreatedAt:  now,
		EligibleAt: now.Add(opts.Delay),
	}
}

func (j *Job) toBytes() ([]byte, error) {
	return json.Marshal(j)
}

func jobFromBytes(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// maxAttempts normalizes the zero value to a single attempt.
func (j *Job) maxAttempts() int {
	if j.Options.MaxAttempts <= 0 {
		return 1
	}
	return j.Options.MaxAttempts
}

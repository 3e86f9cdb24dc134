package engine

import (
	"context"
	"time"
)

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning rejects a task while another task with the same
	// key is queued or running.
	OverlapSkipIfRunning
)

// TaskOptions tune how one task is admitted and retried. Zero values take
// the engine defaults.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = ±20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// Task is one unit of work. ConcurrencyKey names the exclusion slot used by
// OverlapSkipIfRunning and Run; it defaults to Name.
type Task struct {
	ID             string
	Name           string
	ConcurrencyKey string
	Timeout        time.Duration
	Opt            TaskOptions
	Run            func(ctx context.Context) error
}

func (t Task) key() string {
	if t.ConcurrencyKey != "" {
		return t.ConcurrencyKey
	}
	return t.Name
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Key        string        `json:"key,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type HistoryItem struct {
	ID         string
	Name       string
	Key        string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

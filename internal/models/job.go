package models

import (
	"time"
)

// FetchJob is a single fetch/parse unit of work submitted to the worker pool.
// A job is consumed exactly once by exactly one worker and must never be
// resolved more than once; the pool's pending-task table enforces this by
// removing the entry on first resolution.
type FetchJob struct {
	ID              string            `json:"id"`
	TargetID        string            `json:"target_id"`
	URL             string            `json:"url"`
	Platform        Platform          `json:"platform"`
	MaxRetries      int               `json:"max_retries"`
	PrefetchedBody  []byte            `json:"prefetched_body,omitempty"`
	HeaderOverrides map[string]string `json:"header_overrides,omitempty"`
	SubmittedAt     time.Time         `json:"submitted_at"`
}

// JobOutcome categorizes how a job finished, so the scheduler can react
// differently to configuration errors than to transient failures.
type JobOutcome string

const (
	OutcomeSuccess         JobOutcome = "success"
	OutcomeTransientError  JobOutcome = "transient_error"
	OutcomeBlocked         JobOutcome = "blocked"
	OutcomeInvalidTarget   JobOutcome = "invalid_target"
	OutcomeWorkerFailure   JobOutcome = "worker_failure"
)

// JobResult correlates back to its job by ID. Produced by exactly one worker
// per job.
type JobResult struct {
	JobID      string            `json:"job_id"`
	Success    bool              `json:"success"`
	Outcome    JobOutcome        `json:"outcome"`
	Fields     map[string]string `json:"fields,omitempty"` // extracted values (price, title, availability)
	StatusCode int               `json:"status_code,omitempty"`
	Latency    time.Duration     `json:"latency,omitempty"`
	Error      string            `json:"error,omitempty"`
	Detection  *DetectionResult  `json:"detection,omitempty"`
}

// PoolStats is a point-in-time snapshot of worker pool occupancy. Exposed so
// the concurrency and backpressure invariants are externally observable.
type PoolStats struct {
	PoolSize     int `json:"pool_size"`
	BusyWorkers  int `json:"busy_workers"`
	QueuedTasks  int `json:"queued_tasks"`
	PendingTasks int `json:"pending_tasks"`
}

package interfaces

import (
	"context"

	"github.com/shelfwatch/shelfwatch/internal/models"
)

// MonitorService owns one scheduling-state record per monitored target and
// decides when each target's next fetch is due.
type MonitorService interface {
	// StartMonitoring begins (or restarts) polling for a target. Restart is
	// idempotent: an existing pending timer is cancelled first.
	StartMonitoring(target *models.MonitoredTarget) error

	// StopMonitoring cancels any pending timer and removes the scheduling
	// state. Safe to call with an unknown id.
	StopMonitoring(targetID string)

	// GetMonitoringStatus returns one entry per actively monitored target.
	GetMonitoringStatus() []models.TargetStatus

	// Stop halts the scheduling loop and the cleanup sweep.
	Stop()
}

// WorkerPool executes fetch jobs off the scheduling path, bounded by a
// fixed-size pool with per-job timeout and crash isolation.
type WorkerPool interface {
	// Submit dispatches the job to an idle worker, or queues it when all
	// workers are busy. The returned channel receives exactly one result.
	Submit(job *models.FetchJob) (<-chan models.JobResult, error)

	// Stats returns a point-in-time occupancy snapshot.
	Stats() models.PoolStats

	// Destroy rejects all pending and queued tasks and stops every worker.
	// Safe to call with jobs in flight, and safe to call twice.
	Destroy()
}

// FetchRunner performs one fetch/parse for one job. Implemented by the fetch
// executor; the worker pool is agnostic to what a job actually does.
type FetchRunner interface {
	Run(ctx context.Context, job *models.FetchJob) *models.JobResult
}

// Classifier turns a raw HTTP response into a structured judgment of whether
// and how the request was blocked. Always returns a result, never an error.
type Classifier interface {
	Classify(sample *models.ResponseSample) models.DetectionResult
}

// SuggestionService produces ranked countermeasures for a detection event
// and applies them on explicit request.
type SuggestionService interface {
	// GenerateSuggestions is read-only and idempotent.
	GenerateSuggestions(detection *models.DetectionResult) *models.SuggestionSet

	// ApplySolution has side effects and is tracked individually.
	ApplySolution(solutionID string) models.ApplyResult

	// ListSolutions returns the static catalog.
	ListSolutions() []models.Solution
}

// DetectionStore is the append-only audit trail plus the solution
// effectiveness counters.
type DetectionStore interface {
	AppendDetection(record *models.DetectionRecord) error
	RecentDetections(limit int) ([]models.DetectionRecord, error)
	GetEffectiveness(solutionID string) (*models.SolutionEffectiveness, error)
	RecordApplication(solutionID string, success bool) error
	Close() error
}

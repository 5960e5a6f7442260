package scheduler

import (
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// maxBackoffExponent caps the error doubling; beyond this only the absolute
// backoff ceiling applies.
const maxBackoffExponent = 4

// minDelay is the floor for any scheduled delay after jitter.
const minDelay = time.Second

// entry is the scheduling state for one monitored target. All fields are
// guarded by the service mutex.
type entry struct {
	target            *models.MonitoredTarget
	baseInterval      time.Duration
	consecutiveErrors int
	timer             *time.Timer
	queued            bool
	nextRunAt         time.Time
	lastActivity      time.Time
}

// Service schedules per-target fetches with adaptive backoff. Each target
// gets an independent timer; a shared admission cap bounds how many fetches
// are in flight at once regardless of pool size.
type Service struct {
	mu       sync.Mutex
	entries  map[string]*entry
	inFlight int
	stopped  bool

	pool        interfaces.WorkerPool
	suggestions interfaces.SuggestionService

	amazonInterval  time.Duration
	popmartInterval time.Duration
	maxConcurrent   int
	startupDelay    time.Duration
	drainMin        time.Duration
	drainMax        time.Duration
	maxBackoff      time.Duration
	staleAfter      time.Duration

	cron   *cron.Cron
	rand   *rand.Rand
	logger arbor.ILogger
}

// NewService creates the scheduler and starts its cleanup sweep.
func NewService(cfg *common.MonitorConfig, pool interfaces.WorkerPool, suggestions interfaces.SuggestionService) (*Service, error) {
	s := &Service{
		entries:         make(map[string]*entry),
		pool:            pool,
		suggestions:     suggestions,
		amazonInterval:  common.Duration(cfg.AmazonInterval, 15*time.Minute),
		popmartInterval: common.Duration(cfg.PopmartInterval, time.Minute),
		maxConcurrent:   cfg.MaxConcurrent,
		startupDelay:    common.Duration(cfg.StartupDelay, 5*time.Second),
		drainMin:        common.Duration(cfg.QueueDrainMin, 5*time.Second),
		drainMax:        common.Duration(cfg.QueueDrainMax, 10*time.Second),
		maxBackoff:      common.Duration(cfg.MaxBackoff, 5*time.Minute),
		staleAfter:      common.Duration(cfg.StaleAfter, time.Hour),
		cron:            cron.New(),
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          common.GetLogger(),
	}

	if s.maxConcurrent <= 0 {
		s.maxConcurrent = 6
	}

	schedule := cfg.CleanupSchedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := s.cron.AddFunc(schedule, s.cleanup); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.cron.Start()

	return s, nil
}

// baseIntervalFor maps a platform to its polling cadence.
func (s *Service) baseIntervalFor(platform models.Platform) time.Duration {
	if platform == models.PlatformPopmart {
		return s.popmartInterval
	}
	return s.amazonInterval
}

// StartMonitoring begins (or restarts) polling for a target. Restart resets
// the error count and replaces any pending timer.
func (s *Service) StartMonitoring(target *models.MonitoredTarget) error {
	if target == nil || target.ID == "" {
		return fmt.Errorf("target must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if existing, ok := s.entries[target.ID]; ok {
		if existing.timer != nil {
			existing.timer.Stop()
		}
		s.logger.Info().
			Str("target_id", target.ID).
			Msg("Restarting monitoring for target")
	}

	e := &entry{
		target:       target,
		baseInterval: s.baseIntervalFor(target.Platform),
		lastActivity: time.Now(),
	}
	s.entries[target.ID] = e
	s.scheduleLocked(e, s.startupDelay)

	s.logger.Info().
		Str("target_id", target.ID).
		Str("platform", string(target.Platform)).
		Dur("base_interval", e.baseInterval).
		Msg("Monitoring started")

	return nil
}

// StopMonitoring cancels any pending timer and drops the scheduling state.
// Unknown ids are a no-op.
func (s *Service) StopMonitoring(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[targetID]
	if !ok {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, targetID)

	s.logger.Info().
		Str("target_id", targetID).
		Msg("Monitoring stopped")
}

// GetMonitoringStatus returns one status row per tracked target.
func (s *Service) GetMonitoringStatus() []models.TargetStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]models.TargetStatus, 0, len(s.entries))
	for _, e := range s.entries {
		status := models.TargetStatus{
			ID:                e.target.ID,
			Name:              e.target.Name,
			Platform:          e.target.Platform,
			IntervalSeconds:   int(s.backoffIntervalLocked(e).Seconds()),
			ConsecutiveErrors: e.consecutiveErrors,
			Queued:            e.queued,
		}
		if !e.nextRunAt.IsZero() {
			status.NextRunAt = e.nextRunAt.Format(time.RFC3339)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// EscalateBackoff bumps every target's error count by one, widening all
// polling intervals. Invoked by the backoff-escalation countermeasure.
func (s *Service) EscalateBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.consecutiveErrors < maxBackoffExponent {
			e.consecutiveErrors++
		}
	}

	s.logger.Info().
		Int("targets", len(s.entries)).
		Msg("Backoff escalated for all targets")
}

// Stop halts the cleanup sweep and all pending timers. Targets are left in
// place so a restart can resume them, but nothing fires after Stop returns.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.cron.Stop()

	s.logger.Info().Msg("Scheduler stopped")
}

// backoffIntervalLocked computes the current polling interval from the base
// interval, never from the previous interval: one success snaps straight
// back to the base cadence.
func (s *Service) backoffIntervalLocked(e *entry) time.Duration {
	exp := e.consecutiveErrors
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}

	interval := e.baseInterval * (1 << exp)
	if interval > s.maxBackoff {
		interval = s.maxBackoff
	}
	return interval
}

// jitter spreads a delay by ±10% so targets registered together drift apart
// instead of firing in lockstep.
func (s *Service) jitter(d time.Duration) time.Duration {
	jittered := time.Duration(float64(d) * (1 + 0.1*(s.rand.Float64()*2-1)))
	if jittered < minDelay {
		jittered = minDelay
	}
	return jittered
}

// scheduleLocked arms the target's timer, stopping any timer already armed
// so an entry never carries two live timer chains. Caller holds the mutex.
func (s *Service) scheduleLocked(e *entry, delay time.Duration) {
	if s.stopped {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}

	delay = s.jitter(delay)
	e.nextRunAt = time.Now().Add(delay)

	e.timer = time.AfterFunc(delay, func() {
		s.run(e)
	})
}

// run fires when a target's timer elapses. Under the admission cap it
// submits a fetch job; at the cap it parks the target in the queued state
// and retries after a randomized drain delay. Callbacks from an entry that
// has since been stopped or replaced by a restart are dropped, so each
// target has exactly one live timer chain.
func (s *Service) run(e *entry) {
	s.mu.Lock()

	targetID := e.target.ID
	if cur, ok := s.entries[targetID]; !ok || cur != e || s.stopped {
		s.mu.Unlock()
		return
	}

	if s.inFlight >= s.maxConcurrent {
		// Dedup: a queued target is rescheduled, never enqueued twice.
		e.queued = true
		drain := s.drainMin + time.Duration(s.rand.Int63n(int64(s.drainMax-s.drainMin)+1))
		e.nextRunAt = time.Now().Add(drain)
		e.timer = time.AfterFunc(drain, func() {
			s.run(e)
		})
		s.logger.Debug().
			Str("target_id", targetID).
			Int("in_flight", s.inFlight).
			Dur("drain_retry", drain).
			Msg("Admission cap reached, target queued")
		s.mu.Unlock()
		return
	}

	e.queued = false
	e.lastActivity = time.Now()
	s.inFlight++

	job := &models.FetchJob{
		ID:          common.NewJobID(),
		TargetID:    targetID,
		URL:         e.target.URL,
		Platform:    e.target.Platform,
		SubmittedAt: time.Now(),
	}
	s.mu.Unlock()

	resultCh, err := s.pool.Submit(job)
	if err != nil {
		s.logger.Warn().
			Str("target_id", targetID).
			Str("job_id", job.ID).
			Err(err).
			Msg("Job submission rejected")
		s.onResult(e, models.JobResult{
			JobID:   job.ID,
			Outcome: models.OutcomeTransientError,
			Error:   err.Error(),
		})
		return
	}

	common.SafeGo(s.logger, "scheduler-await-"+job.ID, func() {
		result := <-resultCh
		s.onResult(e, result)
	})
}

// onResult applies a finished job's outcome to the target's scheduling state
// and arms the next timer. An outcome for an entry that was stopped or
// replaced while the job was in flight only releases its admission slot; a
// restarted target starts from a clean error count and its own timer chain.
func (s *Service) onResult(e *entry, result models.JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight--
	if s.inFlight < 0 {
		s.inFlight = 0
	}

	targetID := e.target.ID
	if cur, ok := s.entries[targetID]; !ok || cur != e {
		return // stopped or restarted while in flight
	}
	e.lastActivity = time.Now()

	switch result.Outcome {
	case models.OutcomeSuccess:
		if e.consecutiveErrors > 0 {
			s.logger.Info().
				Str("target_id", targetID).
				Int("recovered_after", e.consecutiveErrors).
				Msg("Target recovered, backoff reset")
		}
		e.consecutiveErrors = 0
		s.logger.Debug().
			Str("target_id", targetID).
			Str("job_id", result.JobID).
			Int("fields", len(result.Fields)).
			Msg("Fetch succeeded")

	case models.OutcomeBlocked:
		e.consecutiveErrors++
		s.logBlockedLocked(e, &result)

	case models.OutcomeInvalidTarget:
		// Configuration problem: no amount of backoff fixes a bad URL, so
		// the cadence stays untouched and the error is surfaced as-is.
		s.logger.Error().
			Str("target_id", targetID).
			Str("error", result.Error).
			Msg("Target rejected as invalid, check its configuration")

	default: // transient errors and worker failures
		e.consecutiveErrors++
		s.logger.Warn().
			Str("target_id", targetID).
			Str("outcome", string(result.Outcome)).
			Str("error", result.Error).
			Int("consecutive_errors", e.consecutiveErrors).
			Msg("Fetch failed")
	}

	s.scheduleLocked(e, s.backoffIntervalLocked(e))
}

// logBlockedLocked records a blocked outcome with its suggested response.
func (s *Service) logBlockedLocked(e *entry, result *models.JobResult) {
	if result.Detection == nil {
		s.logger.Warn().
			Str("target_id", e.target.ID).
			Str("platform", string(e.target.Platform)).
			Int("consecutive_errors", e.consecutiveErrors).
			Msg("Fetch blocked by anti-bot defense")
		return
	}

	immediate := 0
	if s.suggestions != nil {
		set := s.suggestions.GenerateSuggestions(result.Detection)
		immediate = len(set.Immediate)
	}

	s.logger.Warn().
		Str("target_id", e.target.ID).
		Str("platform", string(e.target.Platform)).
		Int("consecutive_errors", e.consecutiveErrors).
		Str("detection_type", string(result.Detection.Type)).
		Float64("confidence", result.Detection.Confidence).
		Int("immediate_suggestions", immediate).
		Msg("Fetch blocked by anti-bot defense")
}

// cleanup evicts targets that have shown no activity for the staleness
// window and asks the runtime to hand freed memory back to the OS.
func (s *Service) cleanup() {
	s.mu.Lock()

	cutoff := time.Now().Add(-s.staleAfter)
	var evicted []string
	for id, e := range s.entries {
		if e.lastActivity.Before(cutoff) {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(s.entries, id)
			evicted = append(evicted, id)
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if len(evicted) > 0 {
		s.logger.Info().
			Int("evicted", len(evicted)).
			Int("remaining", remaining).
			Msg("Cleanup sweep evicted stale targets")
	}

	debug.FreeOSMemory()
}

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// fakePool captures submissions and lets the test feed results back.
type fakePool struct {
	mu        sync.Mutex
	submitted []*models.FetchJob
	submitErr error
}

func (f *fakePool) Submit(job *models.FetchJob) (<-chan models.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, job)
	ch := make(chan models.JobResult, 1)
	return ch, nil
}

func (f *fakePool) Stats() models.PoolStats { return models.PoolStats{} }

func (f *fakePool) Destroy() {}

func testMonitorConfig() *common.MonitorConfig {
	return &common.MonitorConfig{
		AmazonInterval:           "15m",
		PopmartInterval:          "1m",
		MaxConcurrent:            6,
		StartupDelay:             "5s",
		QueueDrainMin:            "5s",
		QueueDrainMax:            "10s",
		MaxBackoff:               "5m",
		CleanupSchedule:          "@every 5m",
		StaleAfter:               "1h",
		BlockConfidenceThreshold: 0.6,
	}
}

func newTestService(t *testing.T) (*Service, *fakePool) {
	t.Helper()
	pool := &fakePool{}
	svc, err := NewService(testMonitorConfig(), pool, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc, pool
}

func amazonTarget(id string) *models.MonitoredTarget {
	return &models.MonitoredTarget{
		ID:       id,
		Name:     "Test Widget " + id,
		URL:      "https://www.amazon.com/dp/B0TEST",
		Platform: models.PlatformAmazon,
	}
}

func popmartTarget(id string) *models.MonitoredTarget {
	return &models.MonitoredTarget{
		ID:       id,
		Name:     "Blind Box " + id,
		URL:      "https://www.popmart.com/us/products/123",
		Platform: models.PlatformPopmart,
	}
}

func TestBackoffGrowsFromBaseAndCaps(t *testing.T) {
	svc, _ := newTestService(t)

	e := &entry{baseInterval: time.Minute}

	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 5 * time.Minute},  // 8m capped at 5m
		{4, 5 * time.Minute},  // 16m capped
		{10, 5 * time.Minute}, // exponent capped at 4, then ceiling
	}

	for _, tt := range tests {
		e.consecutiveErrors = tt.errors
		svc.mu.Lock()
		got := svc.backoffIntervalLocked(e)
		svc.mu.Unlock()
		if got != tt.want {
			t.Errorf("errors=%d: expected %s, got %s", tt.errors, tt.want, got)
		}
	}
}

func TestBackoffComputedFromBaseNotCompounded(t *testing.T) {
	svc, _ := newTestService(t)

	e := &entry{baseInterval: time.Minute, consecutiveErrors: 2}

	svc.mu.Lock()
	first := svc.backoffIntervalLocked(e)
	second := svc.backoffIntervalLocked(e)
	svc.mu.Unlock()

	if first != second {
		t.Errorf("repeated computation must not compound: %s then %s", first, second)
	}

	e.consecutiveErrors = 0
	svc.mu.Lock()
	reset := svc.backoffIntervalLocked(e)
	svc.mu.Unlock()
	if reset != time.Minute {
		t.Errorf("one success must snap back to the base interval, got %s", reset)
	}
}

func TestJitterBounds(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Minute
	for i := 0; i < 200; i++ {
		j := svc.jitter(base)
		if j < 54*time.Second || j > 66*time.Second {
			t.Fatalf("jitter outside ±10%%: %s", j)
		}
	}

	// Tiny delays get floored, never negative or zero.
	for i := 0; i < 50; i++ {
		if j := svc.jitter(500 * time.Millisecond); j < time.Second {
			t.Fatalf("jitter below the 1s floor: %s", j)
		}
	}
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	target := amazonTarget("t1")
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	statuses := svc.GetMonitoringStatus()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 entry after restart, got %d", len(statuses))
	}
	if statuses[0].ID != "t1" {
		t.Errorf("unexpected entry id %q", statuses[0].ID)
	}
}

func TestStartMonitoringResetsErrorCount(t *testing.T) {
	svc, _ := newTestService(t)

	target := popmartTarget("t2")
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatalf("StartMonitoring failed: %v", err)
	}

	svc.mu.Lock()
	svc.entries["t2"].consecutiveErrors = 3
	svc.mu.Unlock()

	if err := svc.StartMonitoring(target); err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	statuses := svc.GetMonitoringStatus()
	if statuses[0].ConsecutiveErrors != 0 {
		t.Errorf("restart must reset the error count, got %d", statuses[0].ConsecutiveErrors)
	}
}

func TestStopMonitoringUnknownIDIsNoOp(t *testing.T) {
	svc, _ := newTestService(t)
	svc.StopMonitoring("never-registered")
}

func TestPlatformBaseIntervals(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.StartMonitoring(amazonTarget("a1")); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartMonitoring(popmartTarget("p1")); err != nil {
		t.Fatal(err)
	}

	for _, status := range svc.GetMonitoringStatus() {
		switch status.Platform {
		case models.PlatformAmazon:
			if status.IntervalSeconds != 900 {
				t.Errorf("amazon base interval: expected 900s, got %d", status.IntervalSeconds)
			}
		case models.PlatformPopmart:
			if status.IntervalSeconds != 60 {
				t.Errorf("popmart base interval: expected 60s, got %d", status.IntervalSeconds)
			}
		}
	}
}

func TestOutcomeHandling(t *testing.T) {
	tests := []struct {
		name       string
		outcome    models.JobOutcome
		before     int
		wantErrors int
	}{
		{"success resets", models.OutcomeSuccess, 3, 0},
		{"transient increments", models.OutcomeTransientError, 1, 2},
		{"blocked increments", models.OutcomeBlocked, 0, 1},
		{"worker failure increments", models.OutcomeWorkerFailure, 2, 3},
		{"invalid target unchanged", models.OutcomeInvalidTarget, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)

			if err := svc.StartMonitoring(amazonTarget("t3")); err != nil {
				t.Fatal(err)
			}

			svc.mu.Lock()
			e := svc.entries["t3"]
			e.consecutiveErrors = tt.before
			e.timer.Stop()
			svc.inFlight = 1
			svc.mu.Unlock()

			svc.onResult(e, models.JobResult{
				JobID:   "job_x",
				Outcome: tt.outcome,
			})

			svc.mu.Lock()
			got := svc.entries["t3"].consecutiveErrors
			svc.mu.Unlock()

			if got != tt.wantErrors {
				t.Errorf("expected %d consecutive errors, got %d", tt.wantErrors, got)
			}
		})
	}
}

func TestResultForStoppedTargetIsDropped(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.StartMonitoring(amazonTarget("t4")); err != nil {
		t.Fatal(err)
	}
	svc.mu.Lock()
	e := svc.entries["t4"]
	svc.mu.Unlock()
	svc.StopMonitoring("t4")

	// Must not panic or resurrect the entry.
	svc.onResult(e, models.JobResult{Outcome: models.OutcomeSuccess})

	if len(svc.GetMonitoringStatus()) != 0 {
		t.Error("late result must not resurrect a stopped target")
	}
}

func TestRescheduleReplacesArmedTimer(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.StartMonitoring(popmartTarget("t9")); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	e := svc.entries["t9"]
	old := e.timer
	svc.scheduleLocked(e, time.Hour)
	replaced := e.timer
	svc.mu.Unlock()

	// Stop on an already-stopped timer reports false; true means the first
	// timer chain was left armed alongside the new one.
	if old.Stop() {
		t.Error("rescheduling must stop the previously armed timer")
	}
	if replaced == old {
		t.Error("rescheduling must arm a fresh timer")
	}
}

func TestRestartWhileInFlightDropsStaleOutcome(t *testing.T) {
	svc, _ := newTestService(t)

	target := popmartTarget("t10")
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	stale := svc.entries["t10"]
	stale.timer.Stop()
	svc.mu.Unlock()
	svc.run(stale)

	// Restart while the first job is still in flight.
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	fresh := svc.entries["t10"]
	nextRun := fresh.nextRunAt
	svc.mu.Unlock()

	svc.onResult(stale, models.JobResult{Outcome: models.OutcomeBlocked})

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.entries["t10"] != fresh {
		t.Fatal("restarted entry was replaced by a stale outcome")
	}
	if fresh.consecutiveErrors != 0 {
		t.Errorf("stale outcome must not touch the restarted entry, got %d errors", fresh.consecutiveErrors)
	}
	if !fresh.nextRunAt.Equal(nextRun) {
		t.Error("stale outcome must not reschedule the restarted entry")
	}
	if svc.inFlight != 0 {
		t.Errorf("stale outcome must still release its admission slot, in-flight %d", svc.inFlight)
	}
}

func TestRestartWhileInFlightOrphansStaleTimerChain(t *testing.T) {
	svc, pool := newTestService(t)

	target := popmartTarget("t11")
	if err := svc.StartMonitoring(target); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	stale := svc.entries["t11"]
	stale.timer.Stop()
	svc.mu.Unlock()

	if err := svc.StartMonitoring(target); err != nil {
		t.Fatal(err)
	}

	// The pre-restart timer firing must not submit: only the restarted
	// entry's chain may run this target.
	svc.run(stale)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.submitted) != 0 {
		t.Errorf("stale timer chain submitted %d jobs", len(pool.submitted))
	}
}

func TestAdmissionCapQueuesTarget(t *testing.T) {
	svc, pool := newTestService(t)

	if err := svc.StartMonitoring(amazonTarget("t5")); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	e := svc.entries["t5"]
	e.timer.Stop()
	svc.inFlight = svc.maxConcurrent
	svc.mu.Unlock()

	svc.run(e)

	svc.mu.Lock()
	queued := svc.entries["t5"].queued
	nextRun := svc.entries["t5"].nextRunAt
	svc.entries["t5"].timer.Stop()
	svc.mu.Unlock()

	if !queued {
		t.Error("target must be marked queued at the admission cap")
	}
	drain := time.Until(nextRun)
	if drain < 4*time.Second || drain > 11*time.Second {
		t.Errorf("drain retry outside the 5-10s window: %s", drain)
	}

	pool.mu.Lock()
	submissions := len(pool.submitted)
	pool.mu.Unlock()
	if submissions != 0 {
		t.Errorf("no job may be submitted past the cap, got %d", submissions)
	}
}

func TestRunSubmitsUnderCap(t *testing.T) {
	svc, pool := newTestService(t)

	if err := svc.StartMonitoring(popmartTarget("t6")); err != nil {
		t.Fatal(err)
	}
	svc.mu.Lock()
	e := svc.entries["t6"]
	e.timer.Stop()
	svc.mu.Unlock()

	svc.run(e)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(pool.submitted))
	}
	job := pool.submitted[0]
	if job.TargetID != "t6" {
		t.Errorf("job target mismatch: %q", job.TargetID)
	}
	if job.ID == "" {
		t.Error("job must carry a generated id")
	}
	if job.Platform != models.PlatformPopmart {
		t.Errorf("job platform mismatch: %s", job.Platform)
	}
}

func TestEscalateBackoffCapsExponent(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.StartMonitoring(amazonTarget("t7")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		svc.EscalateBackoff()
	}

	svc.mu.Lock()
	got := svc.entries["t7"].consecutiveErrors
	svc.mu.Unlock()

	if got != maxBackoffExponent {
		t.Errorf("escalation must cap at %d, got %d", maxBackoffExponent, got)
	}
}

func TestCleanupEvictsStaleEntries(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.StartMonitoring(amazonTarget("fresh")); err != nil {
		t.Fatal(err)
	}
	if err := svc.StartMonitoring(amazonTarget("stale")); err != nil {
		t.Fatal(err)
	}

	svc.mu.Lock()
	svc.entries["stale"].lastActivity = time.Now().Add(-2 * time.Hour)
	svc.mu.Unlock()

	svc.cleanup()

	statuses := svc.GetMonitoringStatus()
	if len(statuses) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(statuses))
	}
	if statuses[0].ID != "fresh" {
		t.Errorf("wrong entry survived the sweep: %q", statuses[0].ID)
	}
}

func TestStopPreventsFurtherStarts(t *testing.T) {
	svc, _ := newTestService(t)

	svc.Stop()
	svc.Stop() // idempotent

	if err := svc.StartMonitoring(amazonTarget("t8")); err == nil {
		t.Error("StartMonitoring must fail after Stop")
	}
}

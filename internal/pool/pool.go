package pool

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shelfwatch/shelfwatch/internal/common"
	"github.com/shelfwatch/shelfwatch/internal/interfaces"
	"github.com/shelfwatch/shelfwatch/internal/models"
)

// task pairs a job with its one-shot result channel and per-job lifecycle.
type task struct {
	job      *models.FetchJob
	resultCh chan models.JobResult
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	workerID int // -1 while queued
}

// workerEvent is a worker's report back to the control loop: a completed
// result, or a crash.
type workerEvent struct {
	workerID int
	jobID    string
	result   *models.JobResult
	crashed  bool
	panicVal interface{}
}

// statsRequest is answered synchronously by the control loop.
type statsRequest struct {
	replyCh chan models.PoolStats
}

// Pool is a fixed-size worker pool with FIFO queueing, per-job timeout, and
// crash recovery. All queue/busy/pending state is owned by a single control
// loop goroutine; workers and callers communicate with it only via channels,
// so no invariant ever depends on a mutex.
type Pool struct {
	size       int
	jobTimeout time.Duration
	queueCap   int
	runner     interfaces.FetchRunner
	logger     arbor.ILogger

	submitCh  chan *task
	eventCh   chan workerEvent
	timeoutCh chan string
	statsCh   chan statsRequest
	destroyCh chan struct{}
	stoppedCh chan struct{}
}

// DeriveSize picks the worker count from the machine: one worker per core
// minus one for the scheduler, clamped to [2, 8].
func DeriveSize() int {
	size := runtime.NumCPU() - 1
	if size < 2 {
		size = 2
	}
	if size > 8 {
		size = 8
	}
	return size
}

// NewPool creates and starts a worker pool. Size 0 derives from CPU count.
func NewPool(cfg *common.PoolConfig, runner interfaces.FetchRunner) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = DeriveSize()
	}

	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = 256
	}

	p := &Pool{
		size:       size,
		jobTimeout: common.Duration(cfg.JobTimeout, 30*time.Second),
		queueCap:   queueCap,
		runner:     runner,
		logger:     common.GetLogger(),
		submitCh:   make(chan *task),
		eventCh:    make(chan workerEvent, size),
		timeoutCh:  make(chan string, size),
		statsCh:    make(chan statsRequest),
		destroyCh:  make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}

	common.SafeGo(p.logger, "pool-control-loop", p.controlLoop)

	p.logger.Info().
		Int("size", size).
		Dur("job_timeout", p.jobTimeout).
		Int("queue_capacity", queueCap).
		Msg("Worker pool started")

	return p
}

// Submit hands a job to the pool. The returned channel receives exactly one
// result. Returns an error when the queue is full or the pool is destroyed.
func (p *Pool) Submit(job *models.FetchJob) (<-chan models.JobResult, error) {
	t := &task{
		job:      job,
		resultCh: make(chan models.JobResult, 1),
		workerID: -1,
	}

	select {
	case p.submitCh <- t:
		return t.resultCh, nil
	case <-p.stoppedCh:
		return nil, fmt.Errorf("worker pool is destroyed")
	}
}

// Stats returns a point-in-time occupancy snapshot. A destroyed pool reports
// all zeros except its configured size.
func (p *Pool) Stats() models.PoolStats {
	req := statsRequest{replyCh: make(chan models.PoolStats, 1)}
	select {
	case p.statsCh <- req:
		return <-req.replyCh
	case <-p.stoppedCh:
		return models.PoolStats{PoolSize: p.size}
	}
}

// Destroy rejects all queued and in-flight tasks and stops every worker.
// Safe to call more than once.
func (p *Pool) Destroy() {
	select {
	case p.destroyCh <- struct{}{}:
		<-p.stoppedCh
	case <-p.stoppedCh:
	}
}

// controlLoop is the single writer for all pool state.
func (p *Pool) controlLoop() {
	var (
		queue   []*task          // FIFO backlog
		pending = map[string]*task{} // jobID -> task, in flight or queued
		busy    = map[int]*task{}    // workerID -> task
		idle    []int
		workers = map[int]chan *task{}
		nextID  int
	)

	spawn := func() int {
		id := nextID
		nextID++
		taskCh := make(chan *task)
		workers[id] = taskCh
		p.startWorker(id, taskCh)
		return id
	}

	for i := 0; i < p.size; i++ {
		idle = append(idle, spawn())
	}

	resolve := func(t *task, result models.JobResult) {
		if _, ok := pending[t.job.ID]; !ok {
			return // already resolved (timeout vs completion race)
		}
		delete(pending, t.job.ID)
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.cancel != nil {
			t.cancel()
		}
		result.JobID = t.job.ID
		t.resultCh <- result
	}

	dispatch := func(workerID int, t *task) {
		t.ctx, t.cancel = context.WithTimeout(context.Background(), p.jobTimeout)
		t.workerID = workerID
		jobID := t.job.ID
		t.timer = time.AfterFunc(p.jobTimeout, func() {
			select {
			case p.timeoutCh <- jobID:
			case <-p.stoppedCh:
			}
		})
		busy[workerID] = t
		workers[workerID] <- t
	}

	for {
		select {
		case t := <-p.submitCh:
			if _, dup := pending[t.job.ID]; dup {
				t.resultCh <- models.JobResult{
					JobID:   t.job.ID,
					Outcome: models.OutcomeWorkerFailure,
					Error:   "duplicate job id",
				}
				continue
			}
			pending[t.job.ID] = t
			if len(idle) > 0 {
				workerID := idle[len(idle)-1]
				idle = idle[:len(idle)-1]
				dispatch(workerID, t)
			} else if len(queue) < p.queueCap {
				queue = append(queue, t)
			} else {
				delete(pending, t.job.ID)
				t.resultCh <- models.JobResult{
					JobID:   t.job.ID,
					Outcome: models.OutcomeWorkerFailure,
					Error:   "queue is full",
				}
			}

		case ev := <-p.eventCh:
			if t, ok := busy[ev.workerID]; ok {
				delete(busy, ev.workerID)
				if ev.crashed {
					p.logger.Error().
						Int("worker_id", ev.workerID).
						Str("job_id", t.job.ID).
						Str("panic", fmt.Sprintf("%v", ev.panicVal)).
						Msg("Worker crashed, spawning replacement")
					resolve(t, models.JobResult{
						Outcome: models.OutcomeWorkerFailure,
						Error:   fmt.Sprintf("worker crashed: %v", ev.panicVal),
					})
				} else if ev.result != nil {
					resolve(t, *ev.result)
				}
			}

			workerID := ev.workerID
			if ev.crashed {
				// The panicked goroutine is gone; its channel is dead.
				delete(workers, ev.workerID)
				workerID = spawn()
			}

			// Pull the next queued task before going idle.
			if len(queue) > 0 {
				next := queue[0]
				queue = queue[1:]
				dispatch(workerID, next)
			} else {
				idle = append(idle, workerID)
			}

		case jobID := <-p.timeoutCh:
			if t, ok := pending[jobID]; ok && t.workerID >= 0 {
				p.logger.Warn().
					Str("job_id", jobID).
					Int("worker_id", t.workerID).
					Dur("timeout", p.jobTimeout).
					Msg("Job timed out")
				resolve(t, models.JobResult{
					Outcome: models.OutcomeTransientError,
					Error:   fmt.Sprintf("job timed out after %s", p.jobTimeout),
				})
				// The worker is still running until the cancelled context
				// unwinds; it stays busy until its event arrives. A runner
				// that ignores cancellation pins its slot for as long as it
				// runs, though the job itself is already resolved.
			}

		case req := <-p.statsCh:
			req.replyCh <- models.PoolStats{
				PoolSize:     p.size,
				BusyWorkers:  len(busy),
				QueuedTasks:  len(queue),
				PendingTasks: len(pending),
			}

		case <-p.destroyCh:
			for _, t := range queue {
				resolve(t, models.JobResult{
					Outcome: models.OutcomeWorkerFailure,
					Error:   "worker pool destroyed",
				})
			}
			queue = nil
			for _, t := range busy {
				resolve(t, models.JobResult{
					Outcome: models.OutcomeWorkerFailure,
					Error:   "worker pool destroyed",
				})
			}
			for _, taskCh := range workers {
				close(taskCh)
			}
			close(p.stoppedCh)
			p.logger.Info().Msg("Worker pool destroyed")
			return
		}
	}
}

// startWorker runs one worker goroutine. A panic in the runner is converted
// to a crash event and ends this goroutine; the control loop spawns a
// replacement.
func (p *Pool) startWorker(id int, taskCh chan *task) {
	go func() {
		for t := range taskCh {
			if !p.runTask(id, t) {
				return
			}
		}
	}()
}

// runTask executes one task with panic containment. Returns false when the
// runner panicked; the caller's loop must then end this worker.
func (p *Pool) runTask(id int, t *task) (ok bool) {
	var result *models.JobResult

	func() {
		defer func() {
			if r := recover(); r != nil {
				select {
				case p.eventCh <- workerEvent{workerID: id, jobID: t.job.ID, crashed: true, panicVal: r}:
				case <-p.stoppedCh:
				}
			}
		}()

		result = p.runner.Run(t.ctx, t.job)
		ok = true
	}()

	if !ok {
		return false
	}

	select {
	case p.eventCh <- workerEvent{workerID: id, jobID: t.job.ID, result: result}:
	case <-p.stoppedCh:
	}
	return true
}

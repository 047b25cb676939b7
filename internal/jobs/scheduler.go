package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// Executor performs jobs on behalf of the scheduler
type Executor interface {
	// IsReadyToRun gates a dequeued job. It may tag index state as a side
	// effect, even for jobs it then refuses.
	IsReadyToRun(job *Job) bool
	Execute(ctx context.Context, job *Job) error
	// JobFinished fires once per job, whatever its final state
	JobFinished(job *Job)
	// JobCancelled fires once per cancelled job, before JobFinished
	JobCancelled(job *Job)
}

// Config controls the scheduler
type Config struct {
	IdleThreshold   time.Duration
	StarvationLimit int    // content jobs run back to back before a background one
	OnIdle          func() // called once the queue stays empty for IdleThreshold
	Timing          bool
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		IdleThreshold:   2 * time.Second,
		StarvationLimit: 16,
	}
}

// Stats counts job outcomes
type Stats struct {
	Enqueued  int64
	Deduped   int64
	Rejected  int64
	Completed int64
	Cancelled int64
	Failed    int64
	Pending   int
	Running   string
}

// Scheduler runs jobs one at a time on a single worker
type Scheduler struct {
	exec Executor
	cfg  Config
	log  *slog.Logger

	mu         sync.Mutex
	content    []*Job
	background []*Job
	running    *Job
	contentRun int
	closed     bool
	idle       chan struct{} // closed while nothing is pending or running
	idleClosed bool
	stats      Stats

	wake chan struct{}
	stop chan struct{}
}

// NewScheduler creates a scheduler feeding exec
func NewScheduler(exec Executor, cfg Config) *Scheduler {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultConfig().IdleThreshold
	}
	if cfg.StarvationLimit < 1 {
		cfg.StarvationLimit = DefaultConfig().StarvationLimit
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		exec:       exec,
		cfg:        cfg,
		log:        logger.ForComponent("jobs"),
		idle:       idle,
		idleClosed: true,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Enqueue adds a job. An equivalent pending job absorbs it and is returned
// instead. After Shutdown it returns ErrRejected.
func (s *Scheduler) Enqueue(job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.stats.Rejected++
		return nil, types.ErrRejected
	}

	queue := s.queue(job.Priority)
	for _, pending := range *queue {
		if pending.equivalent(job) && !pending.Cancelled() {
			if job.Force {
				pending.Force = true
			}
			s.stats.Deduped++
			return pending, nil
		}
	}

	job.setState(StatePending)
	job.EnqueuedAt = time.Now()
	*queue = append(*queue, job)
	s.stats.Enqueued++
	if s.idleClosed {
		s.idle = make(chan struct{})
		s.idleClosed = false
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return job, nil
}

func (s *Scheduler) queue(p Priority) *[]*Job {
	if p == PriorityBackground {
		return &s.background
	}
	return &s.content
}

// next pops the job to run, letting a background job through after
// StarvationLimit content jobs
func (s *Scheduler) next() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job *Job
	switch {
	case len(s.content) > 0 && (len(s.background) == 0 || s.contentRun < s.cfg.StarvationLimit):
		job, s.content = s.content[0], s.content[1:]
		s.contentRun++
	case len(s.background) > 0:
		job, s.background = s.background[0], s.background[1:]
		s.contentRun = 0
	default:
		if s.running == nil && !s.idleClosed {
			close(s.idle)
			s.idleClosed = true
		}
		return nil
	}
	s.running = job
	return job
}

// Run drains the queues until ctx is done or Shutdown is called
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "idle_threshold", s.cfg.IdleThreshold, "starvation_limit", s.cfg.StarvationLimit)
	defer s.log.Info("scheduler stopped")

	idleTimer := time.NewTimer(s.cfg.IdleThreshold)
	defer idleTimer.Stop()
	idleFired := false

	for {
		if job := s.next(); job != nil {
			s.run(ctx, job)
			idleFired = false
			idleTimer.Reset(s.cfg.IdleThreshold)
			continue
		}

		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-s.wake:
		case <-idleTimer.C:
			if !idleFired {
				idleFired = true
				if s.cfg.OnIdle != nil {
					s.cfg.OnIdle()
				}
			}
		}
	}
}

// run takes one dequeued job to a terminal state
func (s *Scheduler) run(ctx context.Context, job *Job) {
	defer func() {
		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()
	}()

	if job.Cancelled() {
		s.finish(job, StateCancelled, nil)
		return
	}
	if !s.exec.IsReadyToRun(job) {
		s.log.Debug("job not ready, skipping", "job", job.String())
		s.finish(job, StateCancelled, nil)
		return
	}

	job.setState(StateRunning)
	start := time.Now()
	s.log.Debug("job started", "job", job.String())

	err := s.execute(ctx, job)

	attrs := []any{"job", job.String()}
	if s.cfg.Timing {
		attrs = append(attrs, "elapsed", time.Since(start))
	}

	switch {
	case err == nil && !job.Cancelled():
		s.log.Debug("job completed", attrs...)
		s.finish(job, StateCompleted, nil)
	case job.Cancelled() || errors.Is(err, types.ErrCancelled) || errors.Is(err, context.Canceled):
		s.log.Debug("job cancelled", attrs...)
		s.cancel(job)
		s.finish(job, StateCancelled, nil)
	default:
		s.log.Error("job failed", append(attrs, "error", err)...)
		s.finish(job, StateFailed, err)
	}
}

// execute runs the job, turning a panic into an error
func (s *Scheduler) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", "job", job.String(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", job.Kind, r)
		}
	}()
	return s.exec.Execute(ctx, job)
}

func (s *Scheduler) finish(job *Job, state State, err error) {
	if !job.markFinished() {
		return
	}
	job.setErr(err)
	job.setState(state)

	s.mu.Lock()
	switch state {
	case StateCompleted:
		s.stats.Completed++
	case StateCancelled:
		s.stats.Cancelled++
	case StateFailed:
		s.stats.Failed++
	}
	s.mu.Unlock()

	s.exec.JobFinished(job)
}

// cancel flags the job and notifies the executor once
func (s *Scheduler) cancel(job *Job) {
	if job.markCancelled() {
		s.exec.JobCancelled(job)
	}
}

// Cancel stops a job. A pending job is removed and finished right away; a
// running one stops at its next checkpoint. Repeated calls do nothing.
func (s *Scheduler) Cancel(job *Job) {
	if job.State().Terminal() || job.Cancelled() {
		return
	}

	s.mu.Lock()
	removed := s.remove(job)
	s.mu.Unlock()

	s.cancel(job)
	if removed {
		s.finish(job, StateCancelled, nil)
		// let the worker notice an emptied queue
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) remove(job *Job) bool {
	for _, queue := range []*[]*Job{&s.content, &s.background} {
		for i, pending := range *queue {
			if pending == job {
				*queue = append((*queue)[:i:i], (*queue)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// CancelProject cancels every pending and running job of project and
// returns how many were cancelled
func (s *Scheduler) CancelProject(project string) int {
	s.mu.Lock()
	var victims []*Job
	for _, queue := range []*[]*Job{&s.content, &s.background} {
		for _, job := range *queue {
			if job.BelongsTo(project) {
				victims = append(victims, job)
			}
		}
	}
	if s.running != nil && s.running.BelongsTo(project) {
		victims = append(victims, s.running)
	}
	s.mu.Unlock()

	for _, job := range victims {
		s.Cancel(job)
	}
	return len(victims)
}

// Shutdown rejects further jobs, cancels pending ones and asks the running
// job to stop. Run returns once the running job is done.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := append(append([]*Job{}, s.content...), s.background...)
	s.content, s.background = nil, nil
	running := s.running
	close(s.stop)
	s.mu.Unlock()

	for _, job := range pending {
		s.cancel(job)
		s.finish(job, StateCancelled, nil)
	}
	if running != nil {
		s.cancel(running)
	}

	s.mu.Lock()
	if s.running == nil && !s.idleClosed {
		close(s.idle)
		s.idleClosed = true
	}
	s.mu.Unlock()
}

// WaitIdle blocks until nothing is pending or running
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns counters and the current queue length
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.Pending = len(s.content) + len(s.background)
	if s.running != nil {
		stats.Running = s.running.String()
	}
	return stats
}

// Closed reports whether Shutdown ran
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

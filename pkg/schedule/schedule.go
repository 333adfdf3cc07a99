// Package schedule runs named background jobs on jittered intervals.
//
// Each job has its own goroutine. A run that fails or panics is logged and
// the job is scheduled again; one job never stops another. Stop cancels the
// context handed to running jobs and waits for them to return.
//
//	s := schedule.New(logger)
//	s.Add(schedule.Job{Name: "owner-sync", Interval: time.Minute, Jitter: 10 * time.Second,
//		Run: schedule.Repeat(50, refresher.RunOnce)})
//	s.Start(ctx)
//	defer s.Stop()
package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/observability"
)

// Job is one named periodic task.
type Job struct {
	Name string
	// Interval is the base delay between the end of one run and the start
	// of the next.
	Interval time.Duration
	// Jitter spreads the delay uniformly over Interval ± Jitter.
	Jitter time.Duration
	// Timeout bounds a single run. Zero means no bound beyond Stop.
	Timeout time.Duration
	// Immediate runs the job once right after Start.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Scheduler owns a set of jobs.
type Scheduler struct {
	logger *log.Logger
	jitter func(n int64) int64

	mu      sync.Mutex
	jobs    []Job
	names   map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// ErrStarted is returned by Add after Start was called.
var ErrStarted = errors.New("scheduler already started")

// New creates an empty Scheduler. A nil logger means log.Default().
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "schedule"),
		jitter: rand.Int64N,
		names:  make(map[string]bool),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	switch {
	case job.Name == "":
		return kerrors.New(kerrors.ErrCodeConfig, "job without a name")
	case job.Interval <= 0:
		return kerrors.New(kerrors.ErrCodeConfig, "job %s: interval must be positive", job.Name)
	case job.Jitter < 0 || job.Jitter >= job.Interval:
		return kerrors.New(kerrors.ErrCodeConfig, "job %s: jitter must be in [0, interval)", job.Name)
	case job.Run == nil:
		return kerrors.New(kerrors.ErrCodeConfig, "job %s: no run function", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if s.names[job.Name] {
		return kerrors.New(kerrors.ErrCodeConfig, "duplicate job %q", job.Name)
	}
	s.names[job.Name] = true
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the names of the registered jobs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Start launches every job. It returns immediately; calling it twice is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, job)
		}()
	}
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	if job.Immediate {
		s.runOnce(ctx, job)
	}
	timer := time.NewTimer(s.next(job))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx, job)
			timer.Reset(s.next(job))
		}
	}
}

// next returns the job's interval with a uniform offset in ±Jitter.
func (s *Scheduler) next(job Job) time.Duration {
	if job.Jitter <= 0 {
		return job.Interval
	}
	return job.Interval + time.Duration(s.jitter(int64(2*job.Jitter)+1)) - job.Jitter
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := call(ctx, job)
	dur := time.Since(start)
	observability.Pipeline().OnJobComplete(ctx, job.Name, dur, err)
	switch {
	case err == nil:
		s.logger.Debug("job finished", "job", job.Name, "duration", dur)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.logger.Debug("job cancelled", "job", job.Name)
	default:
		s.logger.Error("job failed", "job", job.Name, "duration", dur, "error", err)
	}
}

func call(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.New(kerrors.ErrCodeInternal, "panic in job %s: %v\n%s", job.Name, r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}

// Repeat adapts a claim-and-process step into a job run. It calls once
// until it reports no work, returns an error, or limit steps ran. A limit
// of zero means no limit.
func Repeat(limit int, once func(ctx context.Context) (bool, error)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for n := 0; limit <= 0 || n < limit; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := once(ctx)
			if err != nil {
				return fmt.Errorf("step %d: %w", n+1, err)
			}
			if !more {
				return nil
			}
		}
		return nil
	}
}

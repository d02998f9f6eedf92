// Package schedule runs the recurring fetch and digest jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"digestbot/pkg/logx"
)

// Job is one named recurring unit of work.
type Job struct {
	Name string
	Spec string // cron spec, 5 or 6 fields, @every accepted
	Run  func(ctx context.Context) error
}

// Service wraps robfig/cron with per-job overlap gates: a tick that fires
// while the previous run of the same job is still going is skipped, not
// queued.
type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	c      *cron.Cron
	jobs   []Job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a job. Must be called before Start.
func (s *Service) Add(j Job) error {
	if j.Name == "" || j.Spec == "" || j.Run == nil {
		return fmt.Errorf("schedule: job needs name, spec and run func")
	}
	if _, err := s.parser.Parse(j.Spec); err != nil {
		return fmt.Errorf("schedule: job %q: bad spec %q: %w", j.Name, j.Spec, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return nil
}

// Start launches the cron loop. Jobs run until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return fmt.Errorf("schedule: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.c = cron.New(cron.WithParser(s.parser))

	for _, j := range s.jobs {
		job := j
		var running atomic.Bool
		_, err := s.c.AddFunc(job.Spec, func() {
			if !running.CompareAndSwap(false, true) {
				s.log.Warn("previous run still in progress; skipping tick",
					logx.String("job", job.Name))
				return
			}
			s.wg.Add(1)
			defer s.wg.Done()
			defer running.Store(false)
			s.runOne(runCtx, job)
		})
		if err != nil {
			cancel()
			s.c = nil
			return fmt.Errorf("schedule: register %q: %w", job.Name, err)
		}
	}

	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) runOne(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("job", job.Name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.log.Info("job started", logx.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		s.log.Error("job failed",
			logx.String("job", job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Info("job finished",
		logx.String("job", job.Name), logx.Duration("took", time.Since(start)))
}

// Stop halts scheduling and waits for in-flight jobs to return.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	if cancel != nil {
		cancel()
	}
	<-stopCtx.Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

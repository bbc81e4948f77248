// Package scheduler runs the engine's periodic background jobs (health
// checks, discovery cache sweeps) on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"calsync/internal/common/errors"
	"calsync/internal/common/logging"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task. Timeout bounds a single run; zero means the run
// is bounded only by Stop.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler wraps cron.Cron. Runs of the same job never overlap and a
// panicking job does not stop the scheduler.
type Scheduler struct {
	cron    *cron.Cron
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	entries map[string]cron.EntryID
}

// Parser accepts standard five-field specs and descriptors such as "@every 5m"
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(logger logging.Logger) *Scheduler {
	logger = logging.OrGlobal(logger).WithFields(logging.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.ValidationError("job needs a name and a run function")
	}
	if _, err := Parser.Parse(job.Spec); err != nil {
		return errors.ConfigError(fmt.Sprintf("invalid schedule %q for job %s: %v", job.Spec, job.Name, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return errors.ValidationError(fmt.Sprintf("job %s already registered", job.Name))
	}

	id, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) })
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to schedule job %s: %v", job.Name, err))
	}
	s.entries[job.Name] = id

	s.logger.Info("Job scheduled",
		logging.String("job", job.Name),
		logging.String("spec", job.Spec),
	)
	return nil
}

func (s *Scheduler) execute(job Job) {
	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger := s.logger.WithFields(logging.String("job", job.Name))
	logger.Debug("Job started")

	if err := job.Run(ctx); err != nil {
		logger.Error("Job failed", err, logging.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("Job completed", logging.Duration("duration", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to return. If ctx ends
// first the jobs' context is cancelled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// NextRun returns when job runs next; zero if unknown or not started
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Jobs returns the registered job names in sorted order
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cronLogger adapts logging.Logger to cron.Logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, fields(keysAndValues)...)
}

func fields(keysAndValues []interface{}) []logging.Field {
	out := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, logging.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}

package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/metrics"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// ErrUnknownJob is returned for names that were never registered.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// JobInfo describes a registered job for the admin API.
type JobInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// Scheduler runs the engine's periodic maintenance jobs by name on top of
// gocron. A job never overlaps itself.
type Scheduler struct {
	mu       sync.Mutex
	cron     gocron.Scheduler
	jobs     map[string]gocron.Job
	logger   *zap.Logger
	stopOnce sync.Once
}

// New creates a new Scheduler. Jobs start running after Start.
func New(logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{cron: cron, jobs: make(map[string]gocron.Job), logger: logger}, nil
}

func (s *Scheduler) wrap(name string, fn TaskFn) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.JobRuns.WithLabelValues(name, "panic").Inc()
				s.logger.Error("scheduler task panicked",
					zap.String("task", name),
					zap.Any("recover", r))
			}
		}()
		fn()
		metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	}
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn TaskFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		if err := s.cron.RemoveJob(old.ID()); err != nil {
			s.logger.Warn("remove replaced job failed", zap.String("name", name), zap.Error(err))
		}
		delete(s.jobs, name)
	}
	job, err := s.cron.NewJob(def,
		gocron.NewTask(s.wrap(name, fn)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.jobs[name] = job
	return nil
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) error {
	if err := s.add(name, gocron.DurationJob(interval), fn); err != nil {
		return err
	}
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
	return nil
}

// AddDaily registers a task that runs every day at hh:mm local time.
func (s *Scheduler) AddDaily(name string, hour, minute uint, fn TaskFn) error {
	def := gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0)))
	if err := s.add(name, def, fn); err != nil {
		return err
	}
	s.logger.Info("scheduler daily task registered",
		zap.String("name", name), zap.Uint("hour", hour), zap.Uint("minute", minute))
	return nil
}

// RunNow triggers a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	return job.RunNow()
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return
	}
	if err := s.cron.RemoveJob(job.ID()); err != nil {
		s.logger.Warn("remove job failed", zap.String("name", name), zap.Error(err))
	}
	delete(s.jobs, name)
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if err := s.cron.Shutdown(); err != nil {
			s.logger.Warn("scheduler shutdown", zap.Error(err))
		}
	})
}

// ListTickers returns the names of all registered tasks, sorted.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListJobs reports each registered job with its run times.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		info := JobInfo{Name: name}
		if t, err := job.NextRun(); err == nil {
			info.NextRun = t
		}
		if t, err := job.LastRun(); err == nil {
			info.LastRun = t
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

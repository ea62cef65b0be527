// Package scheduler runs probes on cron schedules. Each run is submitted
// to the worker pool, which applies the schedule's retry policy, and the
// resulting report is saved when a store is configured.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/workers"
)

// Prober runs one scan.
type Prober interface {
	Probe(ctx context.Context, req probe.Request) (*probe.Report, error)
}

// ReportSaver persists finished reports.
type ReportSaver interface {
	Save(ctx context.Context, report *probe.Report) error
}

// Submitter queues jobs, normally a *workers.Pool.
type Submitter interface {
	Submit(job workers.Job) error
}

// Scheduler manages cron-driven probe jobs.
type Scheduler struct {
	cron    *cron.Cron
	prober  Prober
	pool    Submitter
	store   ReportSaver
	limiter *probe.Limiter
	logger  *logging.Logger
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
}

// ScheduledJob is the scheduler's state for one schedule.
type ScheduledJob struct {
	Config    config.ScheduleConfig
	Ports     ports.Spec
	CronID    cron.EntryID
	Enabled   bool
	Running   bool
	LastRun   time.Time
	NextRun   time.Time
	Runs      int
	LastError string
	LastOpen  []int
	LastScan  string
}

// JobInfo is a read-only snapshot of a ScheduledJob.
type JobInfo struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	Target    string    `json:"target"`
	Ports     string    `json:"ports"`
	Enabled   bool      `json:"enabled"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	Runs      int       `json:"runs"`
	LastError string    `json:"last_error,omitempty"`
	LastOpen  []int     `json:"last_open,omitempty"`
	LastScan  string    `json:"last_scan_id,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore saves every finished report.
func WithStore(store ReportSaver) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithLimiter makes each run hold a scan slot while it probes.
func WithLimiter(l *probe.Limiter) Option {
	return func(s *Scheduler) { s.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a new job scheduler.
func NewScheduler(prober Prober, pool Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		prober: prober,
		pool:   pool,
		jobs:   make(map[string]*ScheduledJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default().WithComponent("scheduler")
	}

	cronLog := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog)),
	)
	return s
}

// Load adds every configured schedule. Disabled schedules are registered
// but do not run.
func (s *Scheduler) Load(schedules []config.ScheduleConfig) error {
	for _, cfg := range schedules {
		if err := s.AddJob(cfg); err != nil {
			return fmt.Errorf("failed to add schedule %q: %w", cfg.Name, err)
		}
	}
	return nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true
	s.refreshNextRuns()

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops scheduling new runs. Runs already submitted to the pool are
// left to the pool's shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob validates and registers a schedule.
func (s *Scheduler) AddJob(cfg config.ScheduleConfig) error {
	if cfg.Name == "" {
		return errors.NewConfigFieldError(errors.CodeValidation, "Schedule name is required", "name", cfg.Name)
	}
	if err := probe.ValidateTarget(cfg.Target); err != nil {
		return err
	}
	spec, err := ports.Parse(cfg.Ports)
	if err != nil {
		return err
	}
	schedule, err := cron.ParseStandard(cfg.Cron)
	if err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation, "Invalid cron expression", "cron", cfg.Cron)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[cfg.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeConflict, "Schedule already exists", "name", cfg.Name)
	}

	name := cfg.Name
	cronID, err := s.cron.AddFunc(cfg.Cron, func() { s.trigger(name) })
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.jobs[name] = &ScheduledJob{
		Config:  cfg,
		Ports:   spec,
		CronID:  cronID,
		Enabled: !cfg.Disabled,
		NextRun: schedule.Next(time.Now()),
	}

	s.logger.Info("Added probe schedule",
		"name", name,
		"cron", cfg.Cron,
		"target", cfg.Target,
		"ports", spec.String(),
		"enabled", !cfg.Disabled)
	return nil
}

// RemoveJob removes a schedule.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return errors.ErrNotFound("remove schedule")
	}

	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed probe schedule", "name", name)
	return nil
}

// EnableJob enables a schedule.
func (s *Scheduler) EnableJob(name string) error {
	return s.setJobEnabled(name, true)
}

// DisableJob disables a schedule. A run in progress is not interrupted.
func (s *Scheduler) DisableJob(name string) error {
	return s.setJobEnabled(name, false)
}

func (s *Scheduler) setJobEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return errors.ErrNotFound("update schedule")
	}
	job.Enabled = enabled

	s.logger.Info("Probe schedule updated", "name", name, "enabled", enabled)
	return nil
}

// GetJobs returns a snapshot of every schedule, sorted by name.
func (s *Scheduler) GetJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.refreshNextRuns()
	}

	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, JobInfo{
			Name:      job.Config.Name,
			Cron:      job.Config.Cron,
			Target:    job.Config.Target,
			Ports:     job.Ports.String(),
			Enabled:   job.Enabled,
			Running:   job.Running,
			LastRun:   job.LastRun,
			NextRun:   job.NextRun,
			Runs:      job.Runs,
			LastError: job.LastError,
			LastOpen:  append([]int(nil), job.LastOpen...),
			LastScan:  job.LastScan,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// RunNow submits a run of the named schedule immediately, outside its cron
// timing. Disabled schedules run too.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.ErrNotFound("run schedule")
	}
	return s.submit(name, true)
}

// refreshNextRuns copies cron's next activation times. Callers hold s.mu.
func (s *Scheduler) refreshNextRuns() {
	for _, job := range s.jobs {
		if entry := s.cron.Entry(job.CronID); entry.Valid() {
			job.NextRun = entry.Next
		}
	}
}

// trigger is the cron callback.
func (s *Scheduler) trigger(name string) {
	if err := s.submit(name, false); err != nil {
		s.logger.Warn("Scheduled probe not submitted", "name", name, "error", err)
	}
}

// submit marks the schedule as running and queues its probe job. A
// schedule whose previous run has not finished is skipped.
func (s *Scheduler) submit(name string, force bool) error {
	job, ok := s.prepareJobExecution(name, force)
	if !ok {
		return nil
	}

	cfg := job.Config
	spec := job.Ports
	scanID := uuid.NewString()

	probeJob := workers.NewProbeJob(scanID, name, func(ctx context.Context) error {
		return s.runProbe(ctx, name, scanID, cfg, spec)
	}).
		WithRetry(cfg.MaxRetries, cfg.RetryDelay).
		OnComplete(func(r workers.Result) {
			s.cleanupJobExecution(name, r.Error)
		})

	if err := s.pool.Submit(probeJob); err != nil {
		s.cleanupJobExecution(name, err)
		return fmt.Errorf("failed to submit probe job: %w", err)
	}
	return nil
}

// prepareJobExecution reports whether the schedule should run now and
// marks it as running.
func (s *Scheduler) prepareJobExecution(name string, force bool) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists || (!job.Enabled && !force) {
		return nil, false
	}
	if job.Running {
		s.logger.Info("Probe schedule is already running, skipping", "name", name)
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now().UTC()
	snapshot := *job
	return &snapshot, true
}

func (s *Scheduler) cleanupJobExecution(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return
	}
	job.Running = false
	job.Runs++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
}

// runProbe is one attempt of a scheduled probe. It may be retried by the pool.
func (s *Scheduler) runProbe(ctx context.Context, name, scanID string, cfg config.ScheduleConfig, spec ports.Spec) error {
	log := s.logger.WithScanID(scanID).WithTarget(cfg.Target)

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, scanID); err != nil {
			return fmt.Errorf("failed to acquire scan slot: %w", err)
		}
		defer s.limiter.Release(scanID)
	}

	report, err := s.prober.Probe(ctx, probe.Request{
		Target:      cfg.Target,
		Ports:       spec,
		Concurrency: cfg.Concurrency,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return err
	}
	if report.Summary.Total() > 0 && report.Summary.Errors == report.Summary.Total() {
		// every port failed the same way, most likely resolution
		return errors.NewProbeError(cfg.Target, 0, firstOutcomeError(report))
	}

	report.ID = scanID
	log.InfoProbe("Scheduled probe completed", cfg.Target,
		"schedule", name,
		"open", report.Open,
		"duration", report.Duration)

	s.mu.Lock()
	if job, ok := s.jobs[name]; ok {
		job.LastOpen = report.Open
		job.LastScan = scanID
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(ctx, report); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
	}
	return nil
}

func firstOutcomeError(report *probe.Report) error {
	for _, o := range report.Outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return fmt.Errorf("all ports failed")
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Package workers provides a worker pool for background jobs such as
// scheduled probes. It supports job queuing, per-job retry policies, rate
// limiting and graceful shutdown, and reports to the logging and metrics
// packages.
package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = stderrors.New("worker pool is shut down")

// RetryPolicy is implemented by jobs that override the pool's retry settings.
// A negative maxRetries keeps the pool defaults.
type RetryPolicy interface {
	Retry() (maxRetries int, delay time.Duration)
}

// Completer is implemented by jobs that want their final result, after all
// retries, before it is published on Results.
type Completer interface {
	Complete(Result)
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the default number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the default delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout is how long Shutdown lets running jobs finish before
	// cancelling them.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            4,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config          Config
	recorder        metrics.Recorder
	jobs            chan Job
	results         chan Result
	externalResults chan Result
	wg              sync.WaitGroup
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	rateLimiter     *time.Ticker
	startOnce       sync.Once

	// mu guards closed and the close of jobs against concurrent Submit.
	mu     sync.RWMutex
	closed bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithRecorder sets the metrics sink for finished jobs.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// New creates a new worker pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		config:          config,
		recorder:        metrics.Nop{},
		jobs:            make(chan Job, config.QueueSize),
		results:         make(chan Result, config.QueueSize),
		externalResults: make(chan Result, config.QueueSize),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}

	if config.RateLimit > 0 {
		pool.rateLimiter = time.NewTicker(time.Second / time.Duration(config.RateLimit))
	}
	return pool
}

// Start launches the workers. It is safe to call more than once.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		logging.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		go p.processResults()
	})
}

// Submit queues a job. It fails rather than blocks when the queue is full.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		logging.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Results returns a channel of job results. Results are dropped when nobody
// is reading. The channel is closed after Shutdown.
func (p *Pool) Results() <-chan Result {
	return p.externalResults
}

// Shutdown stops accepting jobs, lets queued and running jobs finish for up
// to ShutdownTimeout, then cancels whatever is still running.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	logging.Info("Shutting down worker pool")

	// Start is a no-op after this, so a pool that never started has no
	// workers to drain the queue.
	p.startOnce.Do(func() {
		go p.processResults()
	})

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		logging.Info("Worker pool shutdown completed")
	case <-time.After(p.config.ShutdownTimeout):
		logging.Warn("Worker pool shutdown timeout, cancelling running jobs")
		p.cancel()
		<-finished
	}
	p.cancel()

	close(p.results)
	<-p.done

	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}
	return nil
}

// Wait blocks until the pool has shut down.
func (p *Pool) Wait() {
	<-p.done
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	logging.Debug("Worker started", "worker_id", id)
	defer logging.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		var result Result
		if err := p.ctx.Err(); err != nil {
			result = Result{JobID: job.ID(), JobType: job.Type(), Error: err}
		} else {
			result = p.execute(id, job)
		}
		if c, ok := job.(Completer); ok {
			c.Complete(result)
		}
		p.results <- result
	}
}

func (p *Pool) retryPolicy(job Job) (int, time.Duration) {
	if rp, ok := job.(RetryPolicy); ok {
		if n, delay := rp.Retry(); n >= 0 {
			return n, delay
		}
	}
	return p.config.MaxRetries, p.config.RetryDelay
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.IsValidation(err) ||
		stderrors.Is(err, context.Canceled) ||
		errors.IsCancelled(err)
}

// execute runs one job with its retry policy.
func (p *Pool) execute(workerID int, job Job) Result {
	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			return Result{JobID: job.ID(), JobType: job.Type(), Error: p.ctx.Err()}
		}
	}

	maxRetries, delay := p.retryPolicy(job)
	start := time.Now()
	result := Result{JobID: job.ID(), JobType: job.Type()}

	for attempt := 0; ; attempt++ {
		err := job.Execute(p.ctx)
		result.Retries = attempt
		result.Error = err

		if err == nil || attempt >= maxRetries || permanent(err) {
			break
		}

		logging.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"error", err)

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			result.Duration = time.Since(start)
			return result
		}
	}
	result.Duration = time.Since(start)

	if result.Error != nil {
		logging.Error("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"retries", result.Retries,
			"error", result.Error,
			"worker_id", workerID)
	} else {
		logging.Debug("Job completed successfully",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", result.Duration,
			"worker_id", workerID,
			"retries", result.Retries)
	}
	return result
}

// processResults records metrics for every result and forwards it to
// Results when there is room.
func (p *Pool) processResults() {
	defer close(p.done)
	defer close(p.externalResults)

	for result := range p.results {
		status := "success"
		if result.Error != nil {
			status = "error"
		}
		p.recorder.ObserveJob(result.JobType, status, result.Retries, result.Duration)

		select {
		case p.externalResults <- result:
		default:
		}
	}
}

// ProbeJob runs one probe through the pool.
type ProbeJob struct {
	id         string
	name       string
	maxRetries int
	retryDelay time.Duration
	run        func(ctx context.Context) error
	onComplete func(Result)
}

// NewProbeJob creates a probe job. name identifies the schedule or caller
// that produced it.
func NewProbeJob(id, name string, run func(ctx context.Context) error) *ProbeJob {
	return &ProbeJob{id: id, name: name, run: run, maxRetries: -1}
}

// WithRetry sets the job's own retry policy.
func (j *ProbeJob) WithRetry(maxRetries int, delay time.Duration) *ProbeJob {
	j.maxRetries = maxRetries
	j.retryDelay = delay
	return j
}

// OnComplete registers fn to receive the job's final result.
func (j *ProbeJob) OnComplete(fn func(Result)) *ProbeJob {
	j.onComplete = fn
	return j
}

// Complete implements Completer.
func (j *ProbeJob) Complete(r Result) {
	if j.onComplete != nil {
		j.onComplete(r)
	}
}

// Execute implements the Job interface.
func (j *ProbeJob) Execute(ctx context.Context) error {
	return j.run(ctx)
}

// ID implements the Job interface.
func (j *ProbeJob) ID() string {
	return j.id
}

// Name returns the schedule or caller name.
func (j *ProbeJob) Name() string {
	return j.name
}

// Type implements the Job interface.
func (j *ProbeJob) Type() string {
	return "probe"
}

// Retry implements RetryPolicy.
func (j *ProbeJob) Retry() (int, time.Duration) {
	return j.maxRetries, j.retryDelay
}

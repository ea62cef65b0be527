package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/ports"
	"github.com/anstrom/portprobe/internal/resolve"
)

const (
	// DefaultConcurrency is used when a request asks for zero or fewer workers.
	DefaultConcurrency = 200
	// DefaultTimeout is used when a request gives no per-attempt timeout.
	DefaultTimeout = time.Second
)

// Scan status labels reported to metrics.
const (
	scanStatusSuccess       = "success"
	scanStatusCancelled     = "cancelled"
	scanStatusResolveFailed = "resolve_failed"
	scanStatusFailed        = "failed"
)

var targetValidator = validator.New()

// Engine runs TCP connect scans. It holds configuration only; every scan's
// state lives on the stack of the call that runs it, so one Engine may serve
// any number of concurrent scans.
type Engine struct {
	dialer      Dialer
	resolver    resolve.Resolver
	recorder    metrics.Recorder
	logger      *logging.Logger
	concurrency int
	timeout     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialer replaces the direct dialer, for example with a SOCKS5 dialer.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithResolver sets how non-literal targets are resolved.
func WithResolver(r resolve.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger. The package default logger is used otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDefaults overrides the concurrency and timeout applied to requests that
// leave them unset. Non-positive values keep the built-in defaults.
func WithDefaults(concurrency int, timeout time.Duration) Option {
	return func(e *Engine) {
		if concurrency > 0 {
			e.concurrency = concurrency
		}
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// New creates an engine using the system resolver and direct dials.
func New(opts ...Option) *Engine {
	e := &Engine{
		resolver:    resolve.System{},
		recorder:    metrics.Nop{},
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProbeRange scans every port in [start, end] and returns the open ones.
func (e *Engine) ProbeRange(ctx context.Context, target string, start, end, concurrency int, timeout time.Duration) ([]int, error) {
	return e.probeOpen(ctx, Request{
		Target:      target,
		Ports:       ports.Range(start, end),
		Concurrency: concurrency,
		Timeout:     timeout,
	})
}

// ProbeList scans the given ports and returns the open ones. Duplicate
// ports are probed once.
func (e *Engine) ProbeList(ctx context.Context, target string, list []int, concurrency int, timeout time.Duration) ([]int, error) {
	return e.probeOpen(ctx, Request{
		Target:      target,
		Ports:       ports.List(list...),
		Concurrency: concurrency,
		Timeout:     timeout,
	})
}

func (e *Engine) probeOpen(ctx context.Context, req Request) ([]int, error) {
	p, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	ex, err := e.execute(ctx, p, func(Outcome) {})
	if err != nil {
		return nil, err
	}
	return ex.open, nil
}

// Probe scans like ProbeRange/ProbeList but also reports every port's
// outcome. When the scan is cancelled the partial report is returned along
// with the CancelledError.
func (e *Engine) Probe(ctx context.Context, req Request) (*Report, error) {
	p, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:          uuid.NewString(),
		Target:      p.target,
		Ports:       req.Ports.String(),
		Mode:        p.mode,
		Concurrency: p.concurrency,
		Timeout:     p.timeout,
		TimeoutMS:   p.timeout.Milliseconds(),
		StartedAt:   time.Now().UTC(),
		Outcomes:    make([]Outcome, 0, len(p.ports)),
	}

	ex, err := e.execute(ctx, p, func(o Outcome) {
		report.Outcomes = append(report.Outcomes, o)
	})

	sort.Slice(report.Outcomes, func(i, j int) bool {
		return report.Outcomes[i].Port < report.Outcomes[j].Port
	})
	report.Address = ex.address
	report.Open = ex.open
	if report.Open == nil {
		report.Open = []int{}
	}
	report.Summary = ex.summary
	report.Duration = time.Since(report.StartedAt)
	report.DurationMS = report.Duration.Milliseconds()
	report.Cancelled = errors.IsCancelled(err)

	return report, err
}

// Stream validates req, then runs the scan in the background and delivers
// each outcome as it lands. The outcome channel is closed once every attempt
// has finished or the scan was cancelled; the stream's Err then reports
// which. The caller must drain the channel or cancel ctx.
func (e *Engine) Stream(ctx context.Context, req Request) (*OutcomeStream, error) {
	p, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	stream := NewOutcomeStream(p.concurrency)
	go func() {
		total := len(p.ports)
		delivered := 0
		_, err := e.execute(ctx, p, func(o Outcome) {
			if stream.Send(ctx, o) {
				delivered++
			}
		})
		// Outcomes dropped after cancellation still make the stream incomplete.
		if err == nil && delivered < total {
			cause := ctx.Err()
			if cause == nil {
				cause = context.Canceled
			}
			err = errors.NewCancelled(p.target, delivered, total, cause)
		}
		stream.Close(err)
	}()
	return stream, nil
}

// ValidateTarget checks that target is a hostname (RFC 1123) or IP literal.
func ValidateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return errors.NewInvalidTarget(target, "target is required")
	}
	if err := targetValidator.Var(target, "hostname_rfc1123|ip"); err != nil {
		return errors.NewInvalidTarget(target, "not a hostname or IP address")
	}
	if allNumericLabels(target) && net.ParseIP(target) == nil {
		return errors.NewInvalidTarget(target, "malformed IPv4 address")
	}
	return nil
}

// allNumericLabels reports whether every dot-separated label of host is
// made of digits only, as in "999.1.1.1" or "10.1".
func allNumericLabels(host string) bool {
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return false
		}
		for _, r := range label {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// Classify maps a dial error to a Status: nil is Open, a refused connection
// is Closed, a deadline is TimedOut and anything else is Error.
func Classify(err error) Status {
	if err == nil {
		return StatusOpen
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) {
		return StatusClosed
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return StatusTimedOut
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimedOut
	}
	return StatusError
}

type plan struct {
	target      string
	ports       []int
	mode        string
	concurrency int
	timeout     time.Duration
}

// prepare validates req and applies defaults. No network activity happens
// before it succeeds.
func (e *Engine) prepare(req Request) (*plan, error) {
	if err := ValidateTarget(req.Target); err != nil {
		return nil, err
	}
	if err := req.Ports.Validate(); err != nil {
		return nil, err
	}

	work := req.Ports.Expand()

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = e.concurrency
	}
	if concurrency > len(work) {
		concurrency = len(work)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	return &plan{
		target:      req.Target,
		ports:       work,
		mode:        req.Mode(),
		concurrency: concurrency,
		timeout:     timeout,
	}, nil
}

// attemptResult is what a worker hands the aggregator. Aborted attempts were
// cut short by scan cancellation and carry no verdict about the port.
type attemptResult struct {
	Outcome
	aborted bool
}

type execution struct {
	address   string
	open      []int
	summary   Summary
	attempted int64
}

// execute fans the plan out over a bounded pool and aggregates outcomes on
// the calling goroutine. emit is only ever called from that goroutine.
func (e *Engine) execute(ctx context.Context, p *plan, emit func(Outcome)) (*execution, error) {
	started := time.Now()
	status := scanStatusSuccess
	e.recorder.ScanStarted(p.mode)
	defer func() {
		e.recorder.ScanFinished(p.mode, status, time.Since(started))
	}()

	log := e.log().WithTarget(p.target)
	ex := &execution{}
	total := len(p.ports)

	if err := ctx.Err(); err != nil {
		status = scanStatusCancelled
		return ex, errors.NewCancelled(p.target, 0, total, err)
	}

	address, err := resolve.First(ctx, e.resolver, p.target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			status = scanStatusCancelled
			return ex, errors.NewCancelled(p.target, 0, total, ctxErr)
		}
		// Every port gets the resolution error; nothing is dialled.
		status = scanStatusResolveFailed
		log.Warn("Target resolution failed", "error", err, "ports", total)
		for _, port := range p.ports {
			o := Outcome{Port: port, Status: StatusError, Err: errors.NewProbeError(p.target, port, err)}
			ex.summary.Add(o.Status)
			emit(o)
		}
		ex.open = []int{}
		return ex, nil
	}
	ex.address = address

	dialer := e.dialer
	if dialer == nil {
		dialer = NewDirectDialer(p.timeout)
	}

	log.Debug("Starting probe",
		"address", address,
		"ports", total,
		"concurrency", p.concurrency,
		"timeout", p.timeout)

	results := make(chan attemptResult, p.concurrency)
	attempted := atomic.NewInt64(0)
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(p.concurrency, func(arg interface{}) {
		defer wg.Done()
		port := arg.(int)
		if ctx.Err() != nil {
			return
		}
		attempted.Inc()
		results <- e.attempt(ctx, dialer, address, p.target, port, p.timeout)
	})
	if err != nil {
		status = scanStatusFailed
		return ex, fmt.Errorf("failed to create probe pool: %w", err)
	}
	defer pool.Release()

	go func() {
		defer close(results)
		for _, port := range p.ports {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			if err := pool.Invoke(port); err != nil {
				wg.Done()
				log.Error("Failed to dispatch probe", "port", port, "error", err)
				break
			}
		}
		wg.Wait()
	}()

	completed := 0
	open := make([]int, 0)
	for res := range results {
		if res.aborted {
			continue
		}
		completed++
		ex.summary.Add(res.Status)
		e.recorder.ObserveAttempt(res.Status.String(), res.Duration)
		if res.Status == StatusOpen {
			open = append(open, res.Port)
		}
		emit(res.Outcome)
	}
	ex.attempted = attempted.Load()

	sort.Ints(open)
	ex.open = open

	if err := ctx.Err(); err != nil && completed < total {
		status = scanStatusCancelled
		log.Info("Probe cancelled",
			"completed", completed,
			"attempted", ex.attempted,
			"ports", total)
		return ex, errors.NewCancelled(p.target, completed, total, err)
	}

	log.Debug("Probe finished",
		"open", len(open),
		"closed", ex.summary.Closed,
		"timed_out", ex.summary.TimedOut,
		"errors", ex.summary.Errors,
		"duration", time.Since(started))
	return ex, nil
}

// attempt dials one port under its own deadline and closes any connection
// straight away.
func (e *Engine) attempt(ctx context.Context, d Dialer, address, target string, port int, timeout time.Duration) attemptResult {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	begin := time.Now()
	conn, err := d.DialContext(actx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	o := Outcome{Port: port, Duration: time.Since(begin)}

	if err == nil {
		_ = conn.Close()
		o.Status = StatusOpen
		return attemptResult{Outcome: o}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		o.Status = StatusError
		o.Err = errors.NewProbeError(target, port, ctxErr)
		return attemptResult{Outcome: o, aborted: true}
	}

	o.Status = Classify(err)
	if o.Status == StatusError {
		o.Err = errors.NewProbeError(target, port, err)
	}
	return attemptResult{Outcome: o}
}

func (e *Engine) log() *logging.Logger {
	if e.logger != nil {
		return e.logger
	}
	return logging.Default().WithComponent("probe")
}

var defaultEngine = New()

// Default returns the engine used by the package-level helpers.
func Default() *Engine {
	return defaultEngine
}

// ProbeRange scans [start, end] on target with the default engine.
func ProbeRange(ctx context.Context, target string, start, end, concurrency int, timeout time.Duration) ([]int, error) {
	return defaultEngine.ProbeRange(ctx, target, start, end, concurrency, timeout)
}

// ProbeList scans the listed ports on target with the default engine.
func ProbeList(ctx context.Context, target string, list []int, concurrency int, timeout time.Duration) ([]int, error) {
	return defaultEngine.ProbeList(ctx, target, list, concurrency, timeout)
}

// Package metrics provides interfaces for metrics collection and monitoring.
package metrics

import "time"

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/anstrom/portprobe/internal/metrics Recorder

// Recorder defines the metrics the probe engine, scheduler and API report.
// This interface allows for easy mocking and testing of metrics functionality.
type Recorder interface {
	// ObserveAttempt records one terminal probe attempt and how long it took.
	ObserveAttempt(outcome string, duration time.Duration)

	// ScanStarted marks a scan as active.
	ScanStarted(mode string)

	// ScanFinished records the end state of a scan started with ScanStarted.
	ScanFinished(mode, status string, duration time.Duration)

	// ObserveHTTPRequest records a served API request.
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)

	// ObserveJob records a finished background job and how often it was retried.
	ObserveJob(jobType, status string, retries int, duration time.Duration)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveAttempt(string, time.Duration)                  {}
func (Nop) ScanStarted(string)                                    {}
func (Nop) ScanFinished(string, string, time.Duration)            {}
func (Nop) ObserveHTTPRequest(string, string, int, time.Duration) {}
func (Nop) ObserveJob(string, string, int, time.Duration)         {}

// Ensure that the implementations satisfy Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Nop{}
)

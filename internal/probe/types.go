package probe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anstrom/portprobe/internal/ports"
)

// Status is the terminal classification of one connection attempt.
type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusTimedOut
	StatusError
)

var statusNames = map[Status]string{
	StatusOpen:     "open",
	StatusClosed:   "closed",
	StatusTimedOut: "timed_out",
	StatusError:    "error",
}

// String returns the lower-case status name used in logs, metrics and JSON.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown probe status %q", text)
}

// Outcome is the result of probing one port.
type Outcome struct {
	Port     int
	Status   Status
	Err      error
	Duration time.Duration
}

// Reason returns the error text for StatusError outcomes and "" otherwise.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

type outcomeJSON struct {
	Port       int    `json:"port"`
	Status     Status `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// MarshalJSON renders the outcome with its error flattened to a string.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		Port:       o.Port,
		Status:     o.Status,
		Reason:     o.Reason(),
		DurationMS: o.Duration.Milliseconds(),
	})
}

// UnmarshalJSON restores an outcome written by MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw outcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Port = raw.Port
	o.Status = raw.Status
	o.Duration = time.Duration(raw.DurationMS) * time.Millisecond
	o.Err = nil
	if raw.Reason != "" {
		o.Err = reasonError(raw.Reason)
	}
	return nil
}

// reasonError carries a flattened error message restored from storage.
type reasonError string

func (e reasonError) Error() string { return string(e) }

// Request describes one scan.
type Request struct {
	Target      string
	Ports       ports.Spec
	Concurrency int
	Timeout     time.Duration
}

// Mode reports "range" or "list", used as a metrics label.
func (r Request) Mode() string {
	if r.Ports.IsRange() {
		return "range"
	}
	return "list"
}

// Summary counts outcomes per status.
type Summary struct {
	Open     int `json:"open"`
	Closed   int `json:"closed"`
	TimedOut int `json:"timed_out"`
	Errors   int `json:"errors"`
}

// Add counts one outcome.
func (s *Summary) Add(st Status) {
	switch st {
	case StatusOpen:
		s.Open++
	case StatusClosed:
		s.Closed++
	case StatusTimedOut:
		s.TimedOut++
	default:
		s.Errors++
	}
}

// Total returns the number of counted outcomes.
func (s Summary) Total() int {
	return s.Open + s.Closed + s.TimedOut + s.Errors
}

// Report is the diagnostics result of a scan: the open ports plus the
// outcome of every attempted port, ordered by port.
type Report struct {
	ID          string        `json:"id"`
	Target      string        `json:"target"`
	Address     string        `json:"address,omitempty"`
	Ports       string        `json:"ports"`
	Mode        string        `json:"mode"`
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"-"`
	TimeoutMS   int64         `json:"timeout_ms"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	Open        []int         `json:"open"`
	Outcomes    []Outcome     `json:"outcomes,omitempty"`
	Summary     Summary       `json:"summary"`
	Cancelled   bool          `json:"cancelled"`
}

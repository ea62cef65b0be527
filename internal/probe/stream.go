package probe

import "context"

// OutcomeStream carries the outcomes of a running scan. Once Outcomes is
// closed, Err tells a completed scan (nil) apart from a cancelled or failed
// one.
type OutcomeStream struct {
	outcomes chan Outcome
	done     chan struct{}
	err      error
}

// NewOutcomeStream creates a stream whose outcome channel holds up to
// buffer pending outcomes. The producer calls Send for each outcome and
// Close exactly once.
func NewOutcomeStream(buffer int) *OutcomeStream {
	if buffer < 0 {
		buffer = 0
	}
	return &OutcomeStream{
		outcomes: make(chan Outcome, buffer),
		done:     make(chan struct{}),
	}
}

// Outcomes returns the channel outcomes arrive on.
func (s *OutcomeStream) Outcomes() <-chan Outcome {
	return s.outcomes
}

// Send delivers o unless ctx ends first and reports whether it was delivered.
func (s *OutcomeStream) Send(ctx context.Context, o Outcome) bool {
	select {
	case s.outcomes <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close records how the scan ended and closes the outcome channel.
func (s *OutcomeStream) Close(err error) {
	s.err = err
	close(s.done)
	close(s.outcomes)
}

// Done is closed once the scan has ended.
func (s *OutcomeStream) Done() <-chan struct{} {
	return s.done
}

// Err waits for the scan to end and returns its terminal error: nil when
// every outcome was delivered, a CancelledError when the scan was cut short.
func (s *OutcomeStream) Err() error {
	<-s.done
	return s.err
}

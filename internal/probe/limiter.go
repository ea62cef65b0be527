package probe

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"
)

// ErrScanActive is returned by Acquire when the scan ID already holds a slot.
var ErrScanActive = stderrors.New("scan already holds a slot")

// Limiter caps how many scans run at once across the process. The API and
// the scheduler acquire a slot per scan; the engine itself never does.
type Limiter struct {
	capacity  int
	semaphore chan struct{}
	active    map[string]time.Time
	mutex     sync.RWMutex
	closed    bool
}

// LimiterStats is a point-in-time view of a Limiter.
type LimiterStats struct {
	Capacity      int           `json:"capacity"`
	Active        int           `json:"active"`
	Available     int           `json:"available"`
	LongestActive time.Duration `json:"-"`
	Closed        bool          `json:"closed"`
}

// NewLimiter creates a limiter admitting capacity concurrent scans.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}

	return &Limiter{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		active:    make(map[string]time.Time),
	}
}

// Acquire blocks until a slot is free for scanID or ctx is done. A scanID
// holds at most one slot; acquiring it again fails with ErrScanActive.
func (l *Limiter) Acquire(ctx context.Context, scanID string) error {
	l.mutex.RLock()
	closed := l.closed
	_, held := l.active[scanID]
	l.mutex.RUnlock()
	if closed {
		return fmt.Errorf("scan limiter is closed")
	}
	if held {
		return fmt.Errorf("%w: %s", ErrScanActive, scanID)
	}

	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if _, held := l.active[scanID]; held {
		// Lost a race with another Acquire for the same ID.
		<-l.semaphore
		return fmt.Errorf("%w: %s", ErrScanActive, scanID)
	}
	l.active[scanID] = time.Now()
	return nil
}

// Release frees the slot held by scanID. Unknown IDs are ignored.
func (l *Limiter) Release(scanID string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, exists := l.active[scanID]; !exists {
		return
	}
	delete(l.active, scanID)

	select {
	case <-l.semaphore:
	default:
	}
}

// Active returns the number of scans holding a slot.
func (l *Limiter) Active() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.active)
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.capacity - len(l.active)
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() LimiterStats {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	stats := LimiterStats{
		Capacity:  l.capacity,
		Active:    len(l.active),
		Available: l.capacity - len(l.active),
		Closed:    l.closed,
	}
	now := time.Now()
	for _, started := range l.active {
		if d := now.Sub(started); d > stats.LongestActive {
			stats.LongestActive = d
		}
	}
	return stats
}

// Close rejects further acquisitions and forgets active scans.
func (l *Limiter) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.active = make(map[string]time.Time)

	for {
		select {
		case <-l.semaphore:
		default:
			return nil
		}
	}
}

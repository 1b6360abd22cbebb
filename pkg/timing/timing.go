// Package timing provides the timer service that periodic triggers run on.
//
// Deadlines are anchored to the moment a timer is started: the n-th callback
// is due at start+delay+n*period no matter how long earlier callbacks took.
// Callbacks run on the service's own goroutine, never on the goroutine that
// started the timer, and must return quickly.
package timing

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStartFailed is returned when the service refuses to start a timer.
	ErrStartFailed = errors.New("timer start failed")
	// ErrStopped is returned when starting a timer that was stopped.
	ErrStopped = errors.New("timer stopped")
)

// Service creates periodic timers.
type Service interface {
	NewTimer(name string, period time.Duration, fire func()) (Timer, error)
	Now() time.Time
}

// Timer is a periodic timer. It does nothing until Start is called.
type Timer interface {
	Name() string
	Period() time.Duration
	// Start arms the timer so that the first callback happens after delay.
	Start(delay time.Duration) error
	Stop()
}

func validate(name string, period time.Duration, fire func()) error {
	if period <= 0 {
		return fmt.Errorf("timer %q: period must be > 0, got %s", name, period)
	}
	if fire == nil {
		return fmt.Errorf("timer %q: nil callback", name)
	}
	return nil
}

type timerState int

const (
	stateIdle timerState = iota
	stateRunning
	stateStopped
)

// slots bounds how many timers a service keeps running at once.
type slots struct {
	max    int
	active int
}

func (s *slots) take() bool {
	if s.max > 0 && s.active >= s.max {
		return false
	}
	s.active++
	return true
}

func (s *slots) give() {
	if s.active > 0 {
		s.active--
	}
}

func startError(name string, state timerState, limit int) error {
	switch state {
	case stateRunning:
		return fmt.Errorf("%w: %s already running", ErrStartFailed, name)
	case stateStopped:
		return fmt.Errorf("%w: %s", ErrStopped, name)
	}
	return fmt.Errorf("%w: %s: limit of %d active timers reached", ErrStartFailed, name, limit)
}

package sampler

import "context"

// Signal is a single-slot wake flag. Notify never blocks; notifications that
// arrive while one is already pending merge into it. Wait consumes exactly one.
type Signal struct {
	c chan struct{}
}

func NewSignal() *Signal {
	return &Signal{c: make(chan struct{}, 1)}
}

// Notify sets the flag. It reports false when the flag was already set.
func (s *Signal) Notify() bool {
	select {
	case s.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the flag is set and clears it, or until ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether a notification is waiting to be consumed.
func (s *Signal) Pending() bool {
	return len(s.c) > 0
}

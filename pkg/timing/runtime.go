package timing

import (
	"sync"
	"time"
)

// Runtime is a Service backed by Go runtime timers.
type Runtime struct {
	mu    sync.Mutex
	slots slots
}

// NewRuntime returns a service that runs at most maxTimers timers at once.
// A maxTimers of zero means no limit.
func NewRuntime(maxTimers int) *Runtime {
	return &Runtime{slots: slots{max: maxTimers}}
}

func (r *Runtime) Now() time.Time { return time.Now() }

func (r *Runtime) NewTimer(name string, period time.Duration, fire func()) (Timer, error) {
	if err := validate(name, period, fire); err != nil {
		return nil, err
	}
	return &runtimeTimer{svc: r, name: name, period: period, fire: fire}, nil
}

type runtimeTimer struct {
	svc    *Runtime
	name   string
	period time.Duration
	fire   func()

	mu    sync.Mutex
	state timerState
	t     *time.Timer
	next  time.Time
}

func (t *runtimeTimer) Name() string          { return t.name }
func (t *runtimeTimer) Period() time.Duration { return t.period }

func (t *runtimeTimer) Start(delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateIdle {
		return startError(t.name, t.state, 0)
	}
	t.svc.mu.Lock()
	ok := t.svc.slots.take()
	limit := t.svc.slots.max
	t.svc.mu.Unlock()
	if !ok {
		return startError(t.name, t.state, limit)
	}
	t.state = stateRunning
	t.next = time.Now().Add(delay)
	t.t = time.AfterFunc(delay, t.tick)
	return nil
}

func (t *runtimeTimer) tick() {
	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	t.next = t.next.Add(t.period)
	// Deadlines missed while the host was suspended are skipped, keeping the phase.
	for !t.next.After(now) {
		t.next = t.next.Add(t.period)
	}
	t.t.Reset(t.next.Sub(now))
	t.mu.Unlock()

	t.fire()
}

func (t *runtimeTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateRunning {
		t.t.Stop()
		t.svc.mu.Lock()
		t.svc.slots.give()
		t.svc.mu.Unlock()
	}
	t.state = stateStopped
}

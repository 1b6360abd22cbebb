package timing

import (
	"sync"
	"time"
)

// Manual is a Service driven by simulated time. Nothing fires until Advance
// is called; Advance runs every due callback on the calling goroutine in
// deadline order.
type Manual struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	slots  slots
	timers []*manualTimer
	seq    uint64
}

// NewManual returns a simulated service with a limit of maxTimers running
// timers (zero means no limit).
func NewManual(maxTimers int) *Manual {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Manual{start: t0, now: t0, slots: slots{max: maxTimers}}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Elapsed is the simulated time since the service was created.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(m.start)
}

func (m *Manual) NewTimer(name string, period time.Duration, fire func()) (Timer, error) {
	if err := validate(name, period, fire); err != nil {
		return nil, err
	}
	t := &manualTimer{svc: m, name: name, period: period, fire: fire}
	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t, nil
}

// Advance moves simulated time forward by d, firing every callback whose
// deadline falls within (now, now+d]. Deadlines equal to the current time that
// have not fired yet are included, so Advance(0) fires timers started with a
// zero delay.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.next
		t.next = t.next.Add(t.period)
		fire := t.fire
		m.mu.Unlock()
		fire()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// nextDue returns the running timer with the earliest deadline not after
// target. Ties go to the timer started first.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.state != stateRunning || t.next.After(target) {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

type manualTimer struct {
	svc    *Manual
	name   string
	period time.Duration
	fire   func()

	state timerState
	next  time.Time
	seq   uint64
}

func (t *manualTimer) Name() string          { return t.name }
func (t *manualTimer) Period() time.Duration { return t.period }

func (t *manualTimer) Start(delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	m := t.svc
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != stateIdle {
		return startError(t.name, t.state, 0)
	}
	if !m.slots.take() {
		return startError(t.name, t.state, m.slots.max)
	}
	m.seq++
	t.seq = m.seq
	t.state = stateRunning
	t.next = m.now.Add(delay)
	return nil
}

func (t *manualTimer) Stop() {
	m := t.svc
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state == stateRunning {
		m.slots.give()
	}
	t.state = stateStopped
}

package sampler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"github.com/rs/zerolog"
)

// Publisher accepts a reading without waiting. It reports false when the
// reading was not taken.
type Publisher interface {
	TrySend(sensor.Reading) bool
}

type State int32

const (
	Waiting State = iota
	Sampling
)

func (s State) String() string {
	if s == Sampling {
		return "sampling"
	}
	return "waiting"
}

// Stats counts what a task has done since it was created.
type Stats struct {
	Wakes        int64
	Published    int64
	Dropped      int64
	DriverErrors int64
}

// Task waits for a wake-up, takes one reading from its driver and offers it
// to the publisher, forever. The driver belongs to the task alone.
type Task struct {
	source sensor.Source
	driver sensor.Driver
	out    Publisher
	wake   *Signal
	now    func() time.Time
	log    zerolog.Logger

	state        atomic.Int32
	wakes        atomic.Int64
	published    atomic.Int64
	dropped      atomic.Int64
	driverErrors atomic.Int64
}

type Option func(*Task)

// WithClock sets the time source used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(t *Task) { t.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *Task) { t.log = log }
}

func NewTask(source sensor.Source, driver sensor.Driver, out Publisher, opts ...Option) *Task {
	t := &Task{
		source: source,
		driver: driver,
		out:    out,
		wake:   NewSignal(),
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With().Str("source", source.String()).Logger()
	return t
}

// Notify wakes the task. It is safe to call from any goroutine and never blocks.
func (t *Task) Notify() { t.wake.Notify() }

func (t *Task) Source() sensor.Source { return t.source }

func (t *Task) State() State { return State(t.state.Load()) }

func (t *Task) Stats() Stats {
	return Stats{
		Wakes:        t.wakes.Load(),
		Published:    t.published.Load(),
		Dropped:      t.dropped.Load(),
		DriverErrors: t.driverErrors.Load(),
	}
}

// Run loops until ctx is done. Cancellation is only noticed while waiting; an
// acquisition in progress always runs to completion.
func (t *Task) Run(ctx context.Context) {
	t.log.Debug().Msg("sampling task running")
	for {
		t.state.Store(int32(Waiting))
		if err := t.wake.Wait(ctx); err != nil {
			t.log.Debug().Msg("sampling task stopped")
			return
		}
		t.state.Store(int32(Sampling))
		t.sample()
	}
}

func (t *Task) sample() {
	t.wakes.Add(1)
	v, err := t.driver.Acquire()
	if err != nil {
		t.driverErrors.Add(1)
		t.log.Warn().Err(err).Msg("acquire failed")
		return
	}
	r := sensor.Reading{Source: t.source, Value: v, Timestamp: t.now()}
	if !t.out.TrySend(r) {
		t.dropped.Add(1)
		t.log.Debug().Uint32("raw", v).Msg("ingest queue full, reading dropped")
		return
	}
	t.published.Add(1)
}

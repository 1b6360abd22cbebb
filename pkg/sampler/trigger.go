package sampler

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/timing"
	"github.com/rs/zerolog"
)

// Trigger fires onFire after an initial delay and then once per period. The
// callback runs on the timing service and only gets to post a wake-up.
type Trigger struct {
	timer timing.Timer
	delay time.Duration
	fires atomic.Int64
	log   zerolog.Logger
}

func NewTrigger(svc timing.Service, name string, period, delay time.Duration, onFire func(), log zerolog.Logger) (*Trigger, error) {
	if delay < 0 {
		return nil, fmt.Errorf("trigger %s: negative delay %s", name, delay)
	}
	if onFire == nil {
		return nil, fmt.Errorf("trigger %s: nil callback", name)
	}
	t := &Trigger{delay: delay, log: log.With().Str("trigger", name).Logger()}
	timer, err := svc.NewTimer(name, period, func() {
		t.fires.Add(1)
		onFire()
	})
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", name, err)
	}
	t.timer = timer
	return t, nil
}

// Start arms the timer. A failure is reported once and never retried; the
// task behind the trigger stays alive but is never woken through it.
func (t *Trigger) Start() error {
	if err := t.timer.Start(t.delay); err != nil {
		t.log.Error().Err(err).Msg("trigger start failed")
		return fmt.Errorf("trigger %s: %w", t.timer.Name(), err)
	}
	t.log.Info().
		Dur("period", t.timer.Period()).
		Dur("delay", t.delay).
		Msg("trigger started")
	return nil
}

func (t *Trigger) Stop() { t.timer.Stop() }

func (t *Trigger) Name() string { return t.timer.Name() }

// Fires is the number of times the callback has run.
func (t *Trigger) Fires() int64 { return t.fires.Load() }

package output

import (
	"context"
	"errors"

	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"github.com/rs/zerolog"
)

// DefaultMaxBatch bounds how many queued readings one publish carries.
const DefaultMaxBatch = 16

// Queue is the consumer side of the ingest queue.
type Queue interface {
	Receive(ctx context.Context) (sensor.Reading, error)
	TryReceive() (sensor.Reading, error)
}

// Forwarder drains the queue, converts raw readings to physical units and
// hands every batch to each output in turn.
type Forwarder struct {
	in       Queue
	cal      sensor.Calibration
	outs     []Output
	log      zerolog.Logger
	maxBatch int
}

func NewForwarder(in Queue, cal sensor.Calibration, outs []Output, log zerolog.Logger) *Forwarder {
	return &Forwarder{in: in, cal: cal, outs: outs, log: log, maxBatch: DefaultMaxBatch}
}

// Run forwards until ctx is done. Output failures are logged and the reading
// is not retried.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		r, err := f.in.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		batch := []sensor.Reading{r}
		for len(batch) < f.maxBatch {
			next, err := f.in.TryReceive()
			if err != nil {
				break
			}
			batch = append(batch, next)
		}
		f.forward(batch)
	}
}

func (f *Forwarder) forward(batch []sensor.Reading) {
	ms := make([]sensor.Measurement, 0, len(batch))
	for _, r := range batch {
		m, err := f.cal.Convert(r)
		if err != nil {
			f.log.Warn().Err(err).Str("source", r.Source.String()).Msg("conversion failed")
			continue
		}
		ms = append(ms, m)
	}
	if len(ms) == 0 {
		return
	}
	for _, o := range f.outs {
		if err := o.Publish(ms); err != nil {
			f.log.Error().Err(err).Int("readings", len(ms)).Msg("publish failed")
		}
	}
}

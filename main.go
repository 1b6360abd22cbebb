package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"github.com/ericogr/soil-temp-sampler/pkg/ingest"
	"github.com/ericogr/soil-temp-sampler/pkg/logger"
	"github.com/ericogr/soil-temp-sampler/pkg/output"
	"github.com/ericogr/soil-temp-sampler/pkg/output/console"
	"github.com/ericogr/soil-temp-sampler/pkg/output/mqtt"
	"github.com/ericogr/soil-temp-sampler/pkg/output/uart"
	"github.com/ericogr/soil-temp-sampler/pkg/sampler"
	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"github.com/ericogr/soil-temp-sampler/pkg/timing"
	"github.com/rs/zerolog"
)

// shutdownGrace bounds how long shutdown waits for tasks stuck in a driver.
const shutdownGrace = 2 * time.Second

// drivers opens the acquisition driver for each sensor.
type drivers struct {
	temperature func(config.TemperatureConfig) (sensor.Driver, error)
	moisture    func(config.MoistureConfig) (sensor.Driver, error)
}

func hardwareDrivers() drivers {
	return drivers{temperature: sensor.NewSPITemperature, moisture: sensor.NewADS1115}
}

func simulatedDrivers() drivers {
	return drivers{
		temperature: func(config.TemperatureConfig) (sensor.Driver, error) { return sensor.NewFakeTemperature(), nil },
		moisture:    func(config.MoistureConfig) (sensor.Driver, error) { return sensor.NewFakeMoisture(), nil },
	}
}

// unit ties one sensor's driver, sampling task and trigger together.
type unit struct {
	driver  sensor.Driver
	task    *sampler.Task
	trigger *sampler.Trigger
}

type app struct {
	queue     *ingest.Channel
	units     []*unit
	forwarder *output.Forwarder
	outputs   []output.Output
	log       zerolog.Logger

	cancelTasks context.CancelFunc
	stopped     []chan struct{}
	forwarding  sync.WaitGroup
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logger.Init(cfg.LogLevel, logger.IsService())

	drv := hardwareDrivers()
	if cfg.Simulate {
		drv = simulatedDrivers()
		log.Info().Msg("using simulated sensors")
	}

	outs, err := initOutputs(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init outputs")
	}

	a, err := newApp(cfg, timing.NewRuntime(cfg.MaxTimers), drv, outs, log)
	if err != nil {
		closeOutputs(outs, log)
		log.Fatal().Err(err).Msg("init sampler")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.run(ctx)
}

func initOutputs(cfg config.Config) ([]output.Output, error) {
	sources := enabledSources(cfg)
	entries := make([]output.Output, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		var (
			o   output.Output
			err error
		)
		switch oc.Type {
		case "console":
			o = console.NewConsole()
		case "mqtt":
			o, err = mqtt.NewMQTT(*oc.MQTT, sources)
		case "serial":
			o, err = uart.NewSerial(*oc.Serial)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			for _, e := range entries {
				e.Close()
			}
			return nil, fmt.Errorf("output %s: %w", oc.Type, err)
		}
		entries = append(entries, o)
	}
	return entries, nil
}

func enabledSources(cfg config.Config) []sensor.Source {
	var out []sensor.Source
	if cfg.Temperature.Enabled {
		out = append(out, sensor.SourceTemperature)
	}
	if cfg.Moisture.Enabled {
		out = append(out, sensor.SourceMoisture)
	}
	return out
}

// newApp is the composition root: it owns the queue and hands each trigger
// the wake-up of its own task.
func newApp(cfg config.Config, svc timing.Service, drv drivers, outs []output.Output, log zerolog.Logger) (*app, error) {
	a := &app{queue: ingest.New(cfg.QueueCapacity), outputs: outs, log: log}

	type sensorSetup struct {
		source sensor.Source
		period time.Duration
		offset time.Duration
		open   func() (sensor.Driver, error)
	}
	var setups []sensorSetup
	if cfg.Temperature.Enabled {
		setups = append(setups, sensorSetup{sensor.SourceTemperature, cfg.Temperature.Period(), cfg.Temperature.Offset(),
			func() (sensor.Driver, error) { return drv.temperature(cfg.Temperature) }})
	}
	if cfg.Moisture.Enabled {
		setups = append(setups, sensorSetup{sensor.SourceMoisture, cfg.Moisture.Period(), cfg.Moisture.Offset(),
			func() (sensor.Driver, error) { return drv.moisture(cfg.Moisture) }})
	}

	for _, s := range setups {
		d, err := s.open()
		if err != nil {
			a.closeDrivers()
			return nil, fmt.Errorf("%s driver: %w", s.source, err)
		}
		u := &unit{driver: d}
		u.task = sampler.NewTask(s.source, d, a.queue,
			sampler.WithClock(svc.Now),
			sampler.WithLogger(log))
		u.trigger, err = sampler.NewTrigger(svc, s.source.String(), s.period, s.offset, u.task.Notify, log)
		if err != nil {
			d.Close()
			a.closeDrivers()
			return nil, err
		}
		a.units = append(a.units, u)
	}

	cal := sensor.Calibration{
		TemperatureScale: cfg.Temperature.Scale,
		MoistureDry:      cfg.Moisture.DryRaw,
		MoistureWet:      cfg.Moisture.WetRaw,
	}
	a.forwarder = output.NewForwarder(a.queue, cal, outs, log)
	return a, nil
}

// run samples until ctx is done and then shuts everything down.
func (a *app) run(ctx context.Context) {
	a.start(ctx)
	<-ctx.Done()
	a.shutdown()
}

// start launches every task before arming its trigger, then the forwarder.
// A trigger that fails to start leaves its task idle; the others keep going.
func (a *app) start(ctx context.Context) {
	taskCtx, cancel := context.WithCancel(context.Background())
	a.cancelTasks = cancel
	a.stopped = make([]chan struct{}, len(a.units))
	for i, u := range a.units {
		a.stopped[i] = make(chan struct{})
		go func(u *unit, done chan struct{}) {
			defer close(done)
			u.task.Run(taskCtx)
		}(u, a.stopped[i])
	}
	for _, u := range a.units {
		if err := u.trigger.Start(); err != nil {
			a.log.Error().Err(err).Str("source", u.task.Source().String()).Msg("sensor will not be sampled")
		}
	}

	a.forwarding.Add(1)
	go func() {
		defer a.forwarding.Done()
		if err := a.forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Msg("forwarder stopped")
		}
	}()
}

// shutdown expects the context given to start to be done already.
func (a *app) shutdown() {
	a.log.Info().Msg("shutting down")
	for _, u := range a.units {
		u.trigger.Stop()
	}
	a.cancelTasks()

	grace := time.NewTimer(shutdownGrace)
	defer grace.Stop()
	expired := false
	for i, u := range a.units {
		if !expired {
			select {
			case <-a.stopped[i]:
			case <-grace.C:
				expired = true
			}
		}
		select {
		case <-a.stopped[i]:
			if err := u.driver.Close(); err != nil {
				a.log.Warn().Err(err).Str("source", u.task.Source().String()).Msg("driver close")
			}
		default:
			a.log.Warn().Str("source", u.task.Source().String()).Msg("task still in acquisition, leaving it")
		}
	}
	a.forwarding.Wait()
	closeOutputs(a.outputs, a.log)

	for _, u := range a.units {
		st := u.task.Stats()
		a.log.Info().
			Str("source", u.task.Source().String()).
			Int64("wakes", st.Wakes).
			Int64("published", st.Published).
			Int64("dropped", st.Dropped).
			Int64("driver_errors", st.DriverErrors).
			Msg("sampling summary")
	}
}

func (a *app) closeDrivers() {
	for _, u := range a.units {
		u.driver.Close()
	}
}

func closeOutputs(outs []output.Output, log zerolog.Logger) {
	for _, o := range outs {
		if err := o.Close(); err != nil {
			log.Warn().Err(err).Msg("output close")
		}
	}
}

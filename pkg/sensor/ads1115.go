package sensor

import (
	"fmt"
	"io"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	// OS bit of the config register reads 1 once a single-shot conversion is done.
	configReady = 0x80
)

// ADS1115 samples the soil-moisture probe through one single-ended channel of
// an ADS1115 converter.
type ADS1115 struct {
	dev        *i2c.Dev
	closer     io.Closer
	channel    int
	sampleRate int
	settle     time.Duration
	sleep      func(time.Duration)
}

func NewADS1115(cfg config.MoistureConfig) (Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	s := newADS1115(bus, cfg)
	s.closer = bus
	return s, nil
}

func newADS1115(bus i2c.Bus, cfg config.MoistureConfig) *ADS1115 {
	return &ADS1115{
		dev:        &i2c.Dev{Addr: uint16(cfg.I2CAddress), Bus: bus},
		channel:    cfg.Channel,
		sampleRate: cfg.SampleRate,
		settle:     time.Duration(cfg.SettleMs) * time.Millisecond,
		sleep:      time.Sleep,
	}
}

func (s *ADS1115) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Acquire starts a single-shot conversion, spins on the ready bit and then
// waits the settle delay. There is no timeout: a converter that never reports
// ready keeps the caller here.
func (s *ADS1115) Acquire() (uint32, error) {
	msb, lsb, err := s.configForChannel(s.channel, s.sampleRate)
	if err != nil {
		return 0, err
	}
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	status := make([]byte, 2)
	for {
		if err := s.dev.Tx([]byte{pointerConfig}, status); err != nil {
			return 0, fmt.Errorf("read status: %w", err)
		}
		if status[0]&configReady != 0 {
			break
		}
	}
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	if raw < 0 {
		// single-ended inputs only go below zero through offset noise
		raw = 0
	}
	if s.settle > 0 {
		s.sleep(s.settle)
	}
	return uint32(raw), nil
}

func (s *ADS1115) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var config uint16 = 0x8000 // OS = 1 (start single conversion)
	config |= uint16(mux) << 12
	config |= uint16(pga) << 9
	config |= 1 << 8 // single-shot mode
	config |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	config |= 0x3
	return byte(config >> 8), byte(config & 0xFF), nil
}

package sensor

import (
	"fmt"

	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// startFrame is clocked out only to drive the transfer; the chip ignores MOSI.
var startFrame = []byte{0x12, 0x34}

// SPITemperature reads a 16-bit frame from an SPI temperature converter
// (MAX6675 layout) and drops the low status bits.
type SPITemperature struct {
	conn    spi.Conn
	port    spi.PortCloser
	discard uint
}

func NewSPITemperature(cfg config.TemperatureConfig) (Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("open spi: %w", err)
	}
	s, err := newSPITemperature(port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

func newSPITemperature(port spi.PortCloser, cfg config.TemperatureConfig) (*SPITemperature, error) {
	conn, err := port.Connect(physic.Frequency(cfg.SPISpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect spi: %w", err)
	}
	return &SPITemperature{conn: conn, port: port, discard: uint(cfg.DiscardBits)}, nil
}

func (s *SPITemperature) Acquire() (uint32, error) {
	r := make([]byte, len(startFrame))
	if err := s.conn.Tx(startFrame, r); err != nil {
		return 0, fmt.Errorf("spi transfer: %w", err)
	}
	frame := uint16(r[0])<<8 | uint16(r[1])
	return uint32(frame >> s.discard), nil
}

func (s *SPITemperature) Close() error {
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

package uart

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"github.com/ericogr/soil-temp-sampler/pkg/output"
	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"go.bug.st/serial"
)

// SerialOutput writes one CSV line per measurement to a UART, for a
// downstream board that relays the data:
//
//	<unix-ms>,<source>,<raw>,<value>\r\n
type SerialOutput struct {
	port io.WriteCloser
}

func NewSerial(cfg config.SerialConfig) (output.Output, error) {
	p, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return &SerialOutput{port: p}, nil
}

func (s *SerialOutput) Publish(ms []sensor.Measurement) error {
	w := bufio.NewWriter(s.port)
	for _, m := range ms {
		if _, err := fmt.Fprintf(w, "%d,%s,%d,%.2f\r\n", m.Timestamp.UnixMilli(), m.Source, m.Raw, m.Value); err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (s *SerialOutput) Close() error { return s.port.Close() }

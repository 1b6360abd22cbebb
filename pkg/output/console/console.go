package console

import (
	"fmt"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/output"
	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(ms []sensor.Measurement) error {
	for _, m := range ms {
		fmt.Printf("%s source=%s raw=%d value=%.2f%s\n", m.Timestamp.Format(time.RFC3339), m.Source, m.Raw, m.Value, m.Unit)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

package sensor

import (
	"testing"

	"github.com/ericogr/soil-temp-sampler/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/spi/spitest"
)

func TestSPITemperatureDropsStatusBits(t *testing.T) {
	port := &spitest.Playback{Playback: conntest.Playback{Ops: []conntest.IO{
		{W: []byte{0x12, 0x34}, R: []byte{0x0C, 0x87}},
		{W: []byte{0x12, 0x34}, R: []byte{0x01, 0x90}},
	}}}
	s, err := newSPITemperature(port, config.DefaultConfig().Temperature)
	require.NoError(t, err)

	v, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0C87>>3), v)

	v, err = s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint32(50), v)

	cal := Calibration{TemperatureScale: 0.25}
	m, err := cal.Convert(Reading{Source: SourceTemperature, Value: v})
	require.NoError(t, err)
	assert.InDelta(t, 12.5, m.Value, 1e-9)
}

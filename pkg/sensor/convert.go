package sensor

import (
	"errors"
	"fmt"
	"time"
)

var ErrBadCalibration = errors.New("dry and wet calibration points are equal")

// Calibration holds the raw-to-physical parameters used by the consumer.
type Calibration struct {
	TemperatureScale float64 // °C per count after the status bits are dropped
	MoistureDry      uint32  // raw count in dry soil (0 %)
	MoistureWet      uint32  // raw count in water (100 %)
}

// Measurement is a Reading converted to physical units.
type Measurement struct {
	Source    Source    `json:"source"`
	Raw       uint32    `json:"raw"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

func (c Calibration) Convert(r Reading) (Measurement, error) {
	m := Measurement{Source: r.Source, Raw: r.Value, Timestamp: r.Timestamp}
	switch r.Source {
	case SourceTemperature:
		m.Value = float64(r.Value) * c.TemperatureScale
		m.Unit = "°C"
	case SourceMoisture:
		pct, err := c.moisturePercent(r.Value)
		if err != nil {
			return m, err
		}
		m.Value = pct
		m.Unit = "%"
	default:
		return m, fmt.Errorf("%w: %d", ErrUnknownSource, r.Source)
	}
	return m, nil
}

// moisturePercent interpolates between the dry and wet points, clamped to
// 0..100. Either ordering of the points is accepted.
func (c Calibration) moisturePercent(raw uint32) (float64, error) {
	if c.MoistureDry == c.MoistureWet {
		return 0, ErrBadCalibration
	}
	dry, wet := float64(c.MoistureDry), float64(c.MoistureWet)
	pct := (float64(raw) - dry) / (wet - dry) * 100
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	return pct, nil
}

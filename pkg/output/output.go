package output

import "github.com/ericogr/soil-temp-sampler/pkg/sensor"

type Output interface {
	Publish([]sensor.Measurement) error
	Close() error
}

// helper constructors are in subpackages

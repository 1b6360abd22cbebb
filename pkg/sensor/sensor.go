package sensor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source identifies the sampling task that produced a reading.
type Source uint8

const (
	SourceTemperature Source = iota + 1
	SourceMoisture
)

var ErrUnknownSource = errors.New("unknown source")

var sourceNames = map[Source]string{
	SourceTemperature: "temperature",
	SourceMoisture:    "moisture",
}

func (s Source) String() string {
	if n, ok := sourceNames[s]; ok {
		return n
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// ParseSource maps a configuration or topic name back to a Source.
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range sourceNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// Reading is a raw measurement tagged with its source. It is passed by value
// and never modified after the producing task creates it.
type Reading struct {
	Source    Source    `json:"source"`
	Value     uint32    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
}

// Driver performs one blocking acquisition. Each driver is owned by exactly
// one sampling task, so implementations need no locking.
type Driver interface {
	Acquire() (uint32, error)
	Close() error
}

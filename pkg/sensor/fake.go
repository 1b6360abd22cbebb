package sensor

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// FakeDriver stands in for hardware. Values supplies each raw sample; when
// Hold is set, Acquire blocks until Hold yields or is closed, which is how
// tests model a converter that stops answering. A non-nil Err is returned
// instead of a value.
type FakeDriver struct {
	Values func() uint32
	Hold   <-chan struct{}
	Err    error

	mu     sync.Mutex
	calls  atomic.Int64
	closed bool
}

func (f *FakeDriver) Acquire() (uint32, error) {
	f.calls.Add(1)
	if f.Hold != nil {
		<-f.Hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	if f.Values == nil {
		return 0, nil
	}
	return f.Values(), nil
}

// Calls reports how many acquisitions have started.
func (f *FakeDriver) Calls() int { return int(f.calls.Load()) }

func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sequence returns a Values func yielding vs in order, repeating the last one.
func Sequence(vs ...uint32) func() uint32 {
	i := 0
	return func() uint32 {
		if len(vs) == 0 {
			return 0
		}
		v := vs[i]
		if i < len(vs)-1 {
			i++
		}
		return v
	}
}

// NewFakeTemperature simulates a room between roughly 18 and 30 °C at
// 0.25 °C per count.
func NewFakeTemperature() Driver {
	return &FakeDriver{Values: func() uint32 { return uint32(72 + rand.Intn(48)) }}
}

// NewFakeMoisture simulates the probe anywhere between wet and dry.
func NewFakeMoisture() Driver {
	return &FakeDriver{Values: func() uint32 { return uint32(9000 + rand.Intn(12000)) }}
}

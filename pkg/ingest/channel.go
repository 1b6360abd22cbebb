// Package ingest holds the bounded queue that merges readings from every
// sampling task into one ordered stream for a single consumer.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
)

var ErrEmpty = errors.New("ingest queue empty")

// Channel is a fixed-capacity FIFO. Any number of producers may call TrySend
// concurrently; exactly one consumer reads. When the queue is full the newest
// reading is refused.
type Channel struct {
	c       chan sensor.Reading
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type Stats struct {
	Sent    uint64
	Dropped uint64
}

func New(capacity int) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{c: make(chan sensor.Reading, capacity)}
}

// TrySend enqueues r without waiting and reports whether it was accepted.
func (c *Channel) TrySend(r sensor.Reading) bool {
	select {
	case c.c <- r:
		c.sent.Add(1)
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Receive waits for the oldest reading or until ctx is done.
func (c *Channel) Receive(ctx context.Context) (sensor.Reading, error) {
	select {
	case r := <-c.c:
		return r, nil
	case <-ctx.Done():
		return sensor.Reading{}, ctx.Err()
	}
}

// TryReceive returns the oldest reading if one is queued.
func (c *Channel) TryReceive() (sensor.Reading, error) {
	select {
	case r := <-c.c:
		return r, nil
	default:
		return sensor.Reading{}, ErrEmpty
	}
}

func (c *Channel) Len() int { return len(c.c) }
func (c *Channel) Cap() int { return cap(c.c) }

func (c *Channel) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

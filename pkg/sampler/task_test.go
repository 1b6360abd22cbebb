package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ericogr/soil-temp-sampler/pkg/ingest"
	"github.com/ericogr/soil-temp-sampler/pkg/sensor"
	"github.com/ericogr/soil-temp-sampler/pkg/timing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

func startTask(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		task.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(waitFor):
		}
	})
}

func drain(q *ingest.Channel) []sensor.Reading {
	var out []sensor.Reading
	for {
		r, err := q.TryReceive()
		if err != nil {
			return out
		}
		out = append(out, r)
	}
}

func settled(tasks ...*Task) func() bool {
	return func() bool {
		for _, tk := range tasks {
			if tk.State() != Waiting || tk.wake.Pending() {
				return false
			}
		}
		return true
	}
}

func TestStaggeredProducersInterleave(t *testing.T) {
	svc := timing.NewManual(0)
	q := ingest.New(4)
	temp := NewTask(sensor.SourceTemperature, &sensor.FakeDriver{Values: sensor.Sequence(100)}, q, WithClock(svc.Now))
	moist := NewTask(sensor.SourceMoisture, &sensor.FakeDriver{Values: sensor.Sequence(200)}, q, WithClock(svc.Now))
	startTask(t, temp)
	startTask(t, moist)

	ta, err := NewTrigger(svc, "temperature", 2*time.Second, 0, temp.Notify, zerolog.Nop())
	require.NoError(t, err)
	tb, err := NewTrigger(svc, "moisture", 2*time.Second, time.Second, moist.Notify, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ta.Start())
	require.NoError(t, tb.Start())

	var got []sensor.Reading
	step := func(d time.Duration) {
		svc.Advance(d)
		fired := ta.Fires() + tb.Fires()
		require.Eventually(t, func() bool {
			return temp.Stats().Published+moist.Stats().Published == fired && settled(temp, moist)()
		}, waitFor, time.Millisecond)
		got = append(got, drain(q)...)
	}
	// 5s of simulated time: [0s, 5s)
	step(0)
	for i := 0; i < 4; i++ {
		step(time.Second)
	}
	step(999 * time.Millisecond)

	require.Len(t, got, 5)
	t0 := got[0].Timestamp
	wantSrc := []sensor.Source{
		sensor.SourceTemperature, sensor.SourceMoisture,
		sensor.SourceTemperature, sensor.SourceMoisture,
		sensor.SourceTemperature,
	}
	for i, r := range got {
		assert.Equal(t, wantSrc[i], r.Source, "reading %d", i)
		assert.Equal(t, time.Duration(i)*time.Second, r.Timestamp.Sub(t0), "reading %d", i)
	}
	assert.Equal(t, int64(3), ta.Fires())
	assert.Equal(t, int64(2), tb.Fires())
	assert.Zero(t, q.Stats().Dropped)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	svc := timing.NewManual(0)
	q := ingest.New(1)
	a := NewTask(sensor.SourceTemperature, &sensor.FakeDriver{Values: sensor.Sequence(1)}, q)
	b := NewTask(sensor.SourceMoisture, &sensor.FakeDriver{Values: sensor.Sequence(2)}, q)
	startTask(t, a)
	startTask(t, b)

	ta, _ := NewTrigger(svc, "a", time.Second, 0, a.Notify, zerolog.Nop())
	tb, _ := NewTrigger(svc, "b", time.Second, 0, b.Notify, zerolog.Nop())
	require.NoError(t, ta.Start())
	require.NoError(t, tb.Start())

	svc.Advance(0)
	require.Eventually(t, func() bool {
		return a.Stats().Wakes == 1 && b.Stats().Wakes == 1 && settled(a, b)()
	}, waitFor, time.Millisecond)

	assert.Equal(t, 1, q.Len())
	sa, sb := a.Stats(), b.Stats()
	assert.Equal(t, int64(1), sa.Published+sb.Published)
	assert.Equal(t, int64(1), sa.Dropped+sb.Dropped)
	assert.Equal(t, ingest.Stats{Sent: 1, Dropped: 1}, q.Stats())

	// Both tasks keep sampling on later wakes even though every send fails.
	svc.Advance(time.Second)
	require.Eventually(t, func() bool {
		return a.Stats().Wakes == 2 && b.Stats().Wakes == 2 && settled(a, b)()
	}, waitFor, time.Millisecond)
	assert.Equal(t, int64(3), a.Stats().Dropped+b.Stats().Dropped)
}

func TestOneAcquirePerWake(t *testing.T) {
	q := ingest.New(8)
	drv := &sensor.FakeDriver{Values: sensor.Sequence(7)}
	task := NewTask(sensor.SourceTemperature, drv, q)
	startTask(t, task)

	for i := 1; i <= 3; i++ {
		task.Notify()
		require.Eventually(t, func() bool { return drv.Calls() == i && settled(task)() }, waitFor, time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, drv.Calls())
	assert.Len(t, drain(q), 3)
}

func TestWakeDuringSamplingIsServedAfterward(t *testing.T) {
	q := ingest.New(8)
	hold := make(chan struct{})
	drv := &sensor.FakeDriver{Values: sensor.Sequence(1, 2), Hold: hold}
	task := NewTask(sensor.SourceTemperature, drv, q)
	startTask(t, task)

	task.Notify()
	require.Eventually(t, func() bool { return task.State() == Sampling }, waitFor, time.Millisecond)

	// Two more fires land while the first acquisition is blocked; they merge
	// into a single pending wake.
	task.Notify()
	task.Notify()
	hold <- struct{}{}
	require.Eventually(t, func() bool { return drv.Calls() == 2 }, waitFor, time.Millisecond)
	hold <- struct{}{}
	require.Eventually(t, settled(task), waitFor, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, drv.Calls())
	got := drain(q)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].Value)
	assert.Equal(t, uint32(2), got[1].Value)
}

func TestStalledDriverDoesNotStopOtherProducer(t *testing.T) {
	svc := timing.NewManual(0)
	q := ingest.New(16)
	stuck := make(chan struct{})
	a := NewTask(sensor.SourceTemperature, &sensor.FakeDriver{Hold: stuck}, q)
	b := NewTask(sensor.SourceMoisture, &sensor.FakeDriver{Values: sensor.Sequence(5)}, q)
	startTask(t, a)
	startTask(t, b)
	// registered last so it runs before the task cleanups
	t.Cleanup(func() { close(stuck) })

	ta, _ := NewTrigger(svc, "a", 2*time.Second, 0, a.Notify, zerolog.Nop())
	tb, _ := NewTrigger(svc, "b", 2*time.Second, time.Second, b.Notify, zerolog.Nop())
	require.NoError(t, ta.Start())
	require.NoError(t, tb.Start())

	svc.Advance(0)
	require.Eventually(t, func() bool { return a.State() == Sampling }, waitFor, time.Millisecond)
	for i := 1; i <= 3; i++ {
		svc.Advance(2 * time.Second)
		require.Eventually(t, func() bool { return b.Stats().Published == int64(i) }, waitFor, time.Millisecond)
	}

	got := drain(q)
	require.Len(t, got, 3)
	for _, r := range got {
		assert.Equal(t, sensor.SourceMoisture, r.Source)
	}
	assert.Equal(t, Sampling, a.State())
	assert.Equal(t, int64(1), a.Stats().Wakes)
}

func TestDriverErrorReturnsToWaiting(t *testing.T) {
	q := ingest.New(2)
	drv := &sensor.FakeDriver{Err: errors.New("bus nack")}
	task := NewTask(sensor.SourceMoisture, drv, q)
	startTask(t, task)

	task.Notify()
	require.Eventually(t, func() bool { return task.Stats().DriverErrors == 1 && settled(task)() }, waitFor, time.Millisecond)
	assert.Zero(t, q.Len())

	drv2 := &sensor.FakeDriver{Values: sensor.Sequence(3)}
	task.driver = drv2
	task.Notify()
	require.Eventually(t, func() bool { return task.Stats().Published == 1 }, waitFor, time.Millisecond)
}

func TestRunStopsWhileWaiting(t *testing.T) {
	task := NewTask(sensor.SourceTemperature, &sensor.FakeDriver{}, ingest.New(1))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		task.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNotifyWithoutRunnerNeverBlocks(t *testing.T) {
	task := NewTask(sensor.SourceTemperature, &sensor.FakeDriver{}, ingest.New(1))
	for i := 0; i < 10; i++ {
		task.Notify()
	}
	assert.True(t, task.wake.Pending())
}

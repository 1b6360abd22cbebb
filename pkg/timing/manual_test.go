package timing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireLog struct {
	m     *Manual
	fires []time.Duration
}

func (f *fireLog) record() { f.fires = append(f.fires, f.m.Elapsed()) }

func TestManualFiresAtOffsetThenEveryPeriod(t *testing.T) {
	m := NewManual(0)
	log := &fireLog{m: m}
	tm, err := m.NewTimer("a", 2*time.Second, log.record)
	require.NoError(t, err)
	require.NoError(t, tm.Start(500*time.Millisecond))

	m.Advance(7 * time.Second)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		2500 * time.Millisecond,
		4500 * time.Millisecond,
		6500 * time.Millisecond,
	}, log.fires)
	assert.Equal(t, 7*time.Second, m.Elapsed())
}

func TestManualZeroDelayFiresOnAdvanceZero(t *testing.T) {
	m := NewManual(0)
	n := 0
	tm, err := m.NewTimer("a", time.Second, func() { n++ })
	require.NoError(t, err)
	require.NoError(t, tm.Start(0))

	m.Advance(0)
	assert.Equal(t, 1, n)
	m.Advance(0)
	assert.Equal(t, 1, n, "a deadline fires once")
}

func TestManualInterleavesTimersInDeadlineOrder(t *testing.T) {
	m := NewManual(0)
	var order []string
	a, err := m.NewTimer("a", 2*time.Second, func() { order = append(order, "a") })
	require.NoError(t, err)
	b, err := m.NewTimer("b", 2*time.Second, func() { order = append(order, "b") })
	require.NoError(t, err)
	require.NoError(t, a.Start(0))
	require.NoError(t, b.Start(time.Second))

	m.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, order)
}

func TestManualTiesGoToFirstStarted(t *testing.T) {
	m := NewManual(0)
	var order []string
	b, _ := m.NewTimer("b", time.Second, func() { order = append(order, "b") })
	a, _ := m.NewTimer("a", time.Second, func() { order = append(order, "a") })
	require.NoError(t, a.Start(time.Second))
	require.NoError(t, b.Start(time.Second))

	m.Advance(time.Second)

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestManualCadenceIgnoresCallbackCost(t *testing.T) {
	m := NewManual(0)
	log := &fireLog{m: m}
	tm, _ := m.NewTimer("slow", time.Second, func() {
		log.record()
		// a slow consumer of the callback must not shift later deadlines
		time.Sleep(5 * time.Millisecond)
	})
	require.NoError(t, tm.Start(0))

	for i := 0; i < 4; i++ {
		m.Advance(time.Second)
	}

	assert.Equal(t, []time.Duration{0, time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, log.fires)
}

func TestManualStartFailsWhenLimitReached(t *testing.T) {
	m := NewManual(1)
	a, _ := m.NewTimer("a", time.Second, func() {})
	b, _ := m.NewTimer("b", time.Second, func() {})
	require.NoError(t, a.Start(0))

	err := b.Start(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStartFailed))

	a.Stop()
	assert.NoError(t, b.Start(0), "stopping a timer frees its slot")
}

func TestManualRestartAndStoppedTimer(t *testing.T) {
	m := NewManual(0)
	n := 0
	tm, _ := m.NewTimer("a", time.Second, func() { n++ })
	require.NoError(t, tm.Start(0))
	assert.ErrorIs(t, tm.Start(0), ErrStartFailed)

	tm.Stop()
	assert.ErrorIs(t, tm.Start(0), ErrStopped)
	m.Advance(3 * time.Second)
	assert.Equal(t, 0, n)
}

func TestNewTimerValidates(t *testing.T) {
	m := NewManual(0)
	_, err := m.NewTimer("a", 0, func() {})
	assert.Error(t, err)
	_, err = m.NewTimer("a", time.Second, nil)
	assert.Error(t, err)

	r := NewRuntime(0)
	_, err = r.NewTimer("a", -time.Second, func() {})
	assert.Error(t, err)
}

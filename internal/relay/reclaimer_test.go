package relay

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReclaimerFiresAfterGrace(t *testing.T) {
	var fired atomic.Int32
	r := NewReclaimer(testLogger(), 20*time.Millisecond, func(string) { fired.Add(1) })

	r.Schedule("dev-1")
	require.True(t, r.Pending("dev-1"))

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Pending("dev-1"))
}

func TestReclaimerCancelStopsTeardown(t *testing.T) {
	var fired atomic.Int32
	r := NewReclaimer(testLogger(), 20*time.Millisecond, func(string) { fired.Add(1) })

	r.Schedule("dev-1")
	require.True(t, r.Cancel("dev-1"))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.False(t, r.Pending("dev-1"))

	// nothing pending: cancel reports false
	assert.False(t, r.Cancel("dev-1"))
}

func TestReclaimerRescheduleReplacesTimer(t *testing.T) {
	var fired atomic.Int32
	r := NewReclaimer(testLogger(), 30*time.Millisecond, func(string) { fired.Add(1) })

	// schedule twice in a row: timers never stack
	r.Schedule("dev-1")
	r.Schedule("dev-1")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestReclaimerTimersAreIndependentPerDevice(t *testing.T) {
	var fired atomic.Int32
	r := NewReclaimer(testLogger(), 20*time.Millisecond, func(string) { fired.Add(1) })

	r.Schedule("dev-1")
	r.Schedule("dev-2")
	r.Cancel("dev-1")

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestReclaimerStopClearsEverything(t *testing.T) {
	var fired atomic.Int32
	r := NewReclaimer(testLogger(), 20*time.Millisecond, func(string) { fired.Add(1) })

	r.Schedule("dev-1")
	r.Schedule("dev-2")
	r.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

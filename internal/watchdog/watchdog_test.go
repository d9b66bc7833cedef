package watchdog

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
	delays []time.Duration
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// fireAll runs every timer callback, stopped or not, to mimic timers that
// already fired before Stop could take effect.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.fn()
	}
}

func (c *manualClock) fireLive() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.fn()
		}
	}
}

func TestResetSchedulesWithTimeout(t *testing.T) {
	clk := &manualClock{}
	w := New(0, nil).WithAfterFunc(clk.AfterFunc)
	w.Reset()
	require.Len(t, clk.delays, 1)
	assert.Equal(t, DefaultTimeout, clk.delays[0])
	assert.True(t, w.Pending())
}

func TestRepeatedResetFiresOnce(t *testing.T) {
	clk := &manualClock{}
	var fired []uint64
	w := New(time.Second, func(gen uint64) { fired = append(fired, gen) }).WithAfterFunc(clk.AfterFunc)

	w.Reset()
	w.Reset()
	last := w.Reset()

	clk.fireAll()
	require.Equal(t, []uint64{last}, fired)
	assert.False(t, w.Pending())

	// A second pass must not fire again.
	clk.fireAll()
	assert.Len(t, fired, 1)
}

func TestCancelSuppressesExpiry(t *testing.T) {
	clk := &manualClock{}
	var fired int
	w := New(time.Second, func(uint64) { fired++ }).WithAfterFunc(clk.AfterFunc)

	w.Reset()
	w.Cancel()
	clk.fireAll()
	assert.Zero(t, fired)
	assert.False(t, w.Pending())
}

func TestGenerationAdvancesOnCancel(t *testing.T) {
	w := New(time.Second, nil).WithAfterFunc((&manualClock{}).AfterFunc)
	gen := w.Reset()
	assert.Equal(t, gen, w.Generation())
	w.Cancel()
	assert.NotEqual(t, gen, w.Generation())
}

func TestResetAfterExpiryRearms(t *testing.T) {
	clk := &manualClock{}
	var fired int
	w := New(time.Second, func(uint64) { fired++ }).WithAfterFunc(clk.AfterFunc)

	w.Reset()
	clk.fireLive()
	w.Reset()
	clk.fireLive()
	assert.Equal(t, 2, fired)
}

func TestRealTimerFires(t *testing.T) {
	var fired atomic.Int32
	w := New(20*time.Millisecond, func(uint64) { fired.Add(1) })
	for i := 0; i < 5; i++ {
		w.Reset()
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

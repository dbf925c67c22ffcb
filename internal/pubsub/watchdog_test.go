package pubsub

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReclaim struct {
	at atomic.Int64
}

func (f *fakeReclaim) reclaim() {
	f.at.Store(time.Now().UnixNano())
}

func (f *fakeReclaim) released() bool {
	return f.at.Load() != 0
}

func TestWatchdogGraceEpochs(t *testing.T) {
	tests := []struct {
		interval time.Duration
		grace    time.Duration
		epochs   uint64
	}{
		{500 * time.Millisecond, 5 * time.Second, 10},
		{time.Second, 2500 * time.Millisecond, 3},
		{time.Second, 0, 0},
		{0, time.Second, 2},
	}
	for _, tc := range tests {
		w := NewWatchdog(tc.interval, tc.grace)
		assert.Equal(t, tc.epochs, w.graceEpochs, "%s/%s", tc.interval, tc.grace)
	}
}

func TestWatchdogSweep(t *testing.T) {
	w := NewWatchdog(time.Second, 3*time.Second)

	first := &fakeReclaim{}
	w.bury("stream", first)
	assert.Zero(t, w.Sweep())
	second := &fakeReclaim{}
	w.bury("subscriber", second)
	assert.Equal(t, 2, w.Pending())

	assert.Zero(t, w.Sweep())
	assert.Zero(t, w.Sweep())
	assert.False(t, first.released())

	assert.Equal(t, 1, w.Sweep())
	assert.True(t, first.released())
	assert.False(t, second.released())
	assert.Equal(t, uint64(4), w.Epoch())

	assert.Equal(t, 1, w.Sweep())
	assert.True(t, second.released())
	assert.Zero(t, w.Pending())
}

func TestWatchdogDrain(t *testing.T) {
	w := NewWatchdog(time.Second, time.Hour)
	items := []*fakeReclaim{{}, {}, {}}
	for _, item := range items {
		w.bury("session", item)
	}
	assert.Equal(t, 3, w.drain())
	for _, item := range items {
		assert.True(t, item.released())
	}
	assert.Zero(t, w.Pending())
}

func TestWatchdogTimer(t *testing.T) {
	const (
		interval = 10 * time.Millisecond
		grace    = 60 * time.Millisecond
	)
	w := NewWatchdog(interval, grace)
	w.Start()
	defer w.Stop()

	item := &fakeReclaim{}
	buried := time.Now()
	w.bury("stream", item)

	require.Eventually(t, item.released, 2*time.Second, time.Millisecond)
	elapsed := time.Unix(0, item.at.Load()).Sub(buried)
	// A tick that was already due when the item was buried may land after it.
	assert.GreaterOrEqual(t, elapsed, grace-interval)

	w.Stop()
	epoch := w.Epoch()
	time.Sleep(3 * interval)
	assert.Equal(t, epoch, w.Epoch())
}

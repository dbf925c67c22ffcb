package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIntervalTimer(t *testing.T) {
	var ticks atomic.Int32
	timer := SetIntervalTimer(5*time.Millisecond, func() {
		ticks.Add(1)
	})

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	timer.Stop()
	timer.Stop()

	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[string, int]

	m.Store("a", 1)
	m.Store("b", 2)
	require.Equal(t, 2, m.Len())

	v, ok := m.Load("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = m.LoadAndDelete("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = m.Load("b")
	assert.False(t, ok)

	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1}, seen)
}

package utils

import (
	"sync"
	"time"
)

type IntervalTimer interface {
	Stop()
}

type timeInterval struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Stop halts the timer and waits for a running tick to return. It is safe to
// call more than once.
func (t *timeInterval) Stop() {
	t.once.Do(func() {
		close(t.quit)
		<-t.done
	})
}

func SetIntervalTimer(duration time.Duration, function func()) IntervalTimer {
	ticker := time.NewTicker(duration)
	t := &timeInterval{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				function()
			case <-t.quit:
				return
			}
		}
	}()
	return t
}

package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/utils"
)

type reclaimable interface {
	reclaim()
}

type grave struct {
	kind  string
	epoch uint64
	item  reclaimable
}

// Watchdog releases destroyed entities once they have been dead for the
// grace window. Every sweep advances the epoch; an entity buried at epoch E
// is released by the first sweep that reaches E+graceEpochs+1, which is
// never earlier than the grace window and at most one interval later.
type Watchdog struct {
	interval    time.Duration
	graceEpochs uint64

	mu     sync.Mutex
	epoch  uint64
	graves []grave

	timer   utils.IntervalTimer
	stopped atomic.Bool
}

func NewWatchdog(interval, grace time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	epochs := grace / interval
	if grace%interval != 0 {
		epochs++
	}
	return &Watchdog{
		interval:    interval,
		graceEpochs: uint64(epochs),
	}
}

func (w *Watchdog) Start() {
	w.timer = utils.SetIntervalTimer(w.interval, func() {
		if w.stopped.Load() {
			return
		}
		w.Sweep()
	})
}

func (w *Watchdog) Stop() {
	w.stopped.Store(true)
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watchdog) Epoch() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.graves)
}

func (w *Watchdog) bury(kind string, item reclaimable) {
	w.mu.Lock()
	w.graves = append(w.graves, grave{kind: kind, epoch: w.epoch, item: item})
	w.mu.Unlock()
	metrics.PendingReclaim.WithLabelValues(kind).Inc()
}

// Sweep advances the epoch and releases everything past the grace window.
// It returns the number of released entities.
func (w *Watchdog) Sweep() int {
	w.mu.Lock()
	w.epoch++
	var due []grave
	kept := w.graves[:0]
	for _, g := range w.graves {
		if w.epoch-g.epoch > w.graceEpochs {
			due = append(due, g)
		} else {
			kept = append(kept, g)
		}
	}
	clear(w.graves[len(kept):])
	w.graves = kept
	w.mu.Unlock()

	release(due)
	return len(due)
}

// drain releases everything regardless of age.
func (w *Watchdog) drain() int {
	w.mu.Lock()
	due := w.graves
	w.graves = nil
	w.mu.Unlock()

	release(due)
	return len(due)
}

func release(graves []grave) {
	for _, g := range graves {
		g.item.reclaim()
		metrics.PendingReclaim.WithLabelValues(g.kind).Dec()
		metrics.ReclaimedTotal.WithLabelValues(g.kind).Inc()
	}
}

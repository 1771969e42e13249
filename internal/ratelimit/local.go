package ratelimit

import (
	"sync"
	"time"
)

// localEngine mirrors the log-based sliding window in process memory. It is
// only consulted while the distributed tier is unreachable; counts diverge
// across replicas until the tier returns, but each replica still enforces
// the full limit on its own traffic.
type localEngine struct {
	mu      sync.Mutex
	windows map[string]*localWindow
}

type localWindow struct {
	mu          sync.Mutex
	timestamps  []time.Time
	amounts     []float64
	lastCleanup time.Time
}

func newLocalEngine() *localEngine {
	return &localEngine{windows: make(map[string]*localWindow)}
}

func (e *localEngine) window(key string) *localWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[key]
	if !ok {
		w = &localWindow{}
		e.windows[key] = w
	}
	return w
}

// check performs the same computation as the distributed pipeline against
// the local record. One writer per key at a time.
func (e *localEngine) check(tenantID string, d Dimension, limit, amount float64, now time.Time) Decision {
	w := e.window(d.Key(tenantID))
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(now, d.Window())

	var used float64
	if d.IsCost() {
		for _, a := range w.amounts {
			used += a
		}
	} else {
		used = float64(len(w.timestamps))
	}

	oldest := now
	if len(w.timestamps) > 0 {
		oldest = w.timestamps[0]
	}

	return decide(d, limit, used, amount, now, oldest)
}

// record appends a completed sample to the local window.
func (e *localEngine) record(tenantID string, d Dimension, amount float64, now time.Time) {
	w := e.window(d.Key(tenantID))
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(now, d.Window())
	w.timestamps = append(w.timestamps, now)
	w.amounts = append(w.amounts, amount)
}

// expire drops samples older than the window. Samples are appended in time
// order, so a single scan from the front suffices.
func (w *localWindow) expire(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.timestamps) && w.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append([]time.Time(nil), w.timestamps[i:]...)
		w.amounts = append([]float64(nil), w.amounts[i:]...)
	}
	w.lastCleanup = now
}

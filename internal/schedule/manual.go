package schedule

import (
	"sync"
	"time"
)

// Manual is a Scheduler whose ticks are fired by hand. Tasks run
// synchronously on the goroutine calling Fire.
type Manual struct {
	mu      sync.Mutex
	entries []*manualEntry
}

type manualEntry struct {
	interval  time.Duration
	task      func()
	cancelled bool
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Every implements Scheduler.
func (m *Manual) Every(interval time.Duration, task func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &manualEntry{interval: interval, task: task}
	m.entries = append(m.entries, e)
	return &manualHandle{m: m, e: e}
}

// Fire runs one tick of every active task.
func (m *Manual) Fire() {
	for _, e := range m.snapshot(false) {
		e.task()
	}
}

// FireN fires n ticks in a row.
func (m *Manual) FireN(n int) {
	for i := 0; i < n; i++ {
		m.Fire()
	}
}

// FireStale runs one tick of every task, cancelled ones included. It
// stands in for a timer that fires after it was stopped.
func (m *Manual) FireStale() {
	for _, e := range m.snapshot(true) {
		e.task()
	}
}

// Active returns the number of tasks not yet cancelled.
func (m *Manual) Active() int {
	return len(m.snapshot(false))
}

// Interval returns the interval of the most recently scheduled task.
func (m *Manual) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].interval
}

func (m *Manual) snapshot(all bool) []*manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*manualEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if all || !e.cancelled {
			out = append(out, e)
		}
	}
	return out
}

type manualHandle struct {
	m *Manual
	e *manualEntry
}

func (h *manualHandle) Cancel() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.e.cancelled = true
}

package training

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Task is a scheduled repeating callback.
type Task interface {
	// Cancel stops future invocations. It does not wait for a running one.
	Cancel()
}

// Scheduler runs fn every interval until the returned task is cancelled.
// Invocations of one task never overlap.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// TickerScheduler drives tasks from time.Ticker, one goroutine per task.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{stop: make(chan struct{})}
	go t.loop(interval, fn)
	return t
}

type tickerTask struct {
	stop    chan struct{}
	stopped atomic.Bool
}

func (t *tickerTask) loop(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if t.stopped.Load() {
				return
			}
			fn()
		}
	}
}

func (t *tickerTask) Cancel() {
	if t.stopped.CompareAndSwap(false, true) {
		close(t.stop)
	}
}

// ManualScheduler fires tasks only when Advance is called. It lets tests and
// the CLI step a simulation deterministically.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled atomic.Bool
}

func (t *manualTask) Cancel() { t.cancelled.Store(true) }

func (m *ManualScheduler) Every(_ time.Duration, fn func()) Task {
	t := &manualTask{fn: fn}
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	return t
}

// Advance fires every live task once and returns how many fired.
func (m *ManualScheduler) Advance() int {
	m.mu.Lock()
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.cancelled.Load() {
			live = append(live, t)
		}
	}
	m.tasks = live
	pending := append([]*manualTask(nil), live...)
	m.mu.Unlock()

	fired := 0
	for _, t := range pending {
		if t.cancelled.Load() {
			continue
		}
		t.fn()
		fired++
	}
	return fired
}

// Pending returns the number of live tasks.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled.Load() {
			n++
		}
	}
	return n
}

package capture

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// meterFrameInterval approximates a display refresh tick.
	meterFrameInterval = 16 * time.Millisecond
	// meterMinInterval bounds dispatch rate to 30 updates per second
	// independent of the tick source rate.
	meterMinInterval = time.Second / 30
)

// meter fans instantaneous input levels out to any number of subscribers.
//
// Subscribers survive across capture sessions; the dispatch loop only runs
// while a session is active.
type meter struct {
	mu           sync.Mutex
	nextID       int
	subs         map[int]func(float64)
	lastDispatch time.Time
}

func newMeter() *meter {
	return &meter{subs: make(map[int]func(float64))}
}

// subscribe registers a level listener and returns its idempotent removal.
func (m *meter) subscribe(fn func(float64)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

// snapshot returns the current subscriber set for mutation-safe iteration.
func (m *meter) snapshot() []func(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]func(float64), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

// dispatch delivers one level reading when the throttle window has elapsed.
// A subscriber that panics is logged and isolated from the others.
func (m *meter) dispatch(now time.Time, level float64, logger *slog.Logger) bool {
	m.mu.Lock()
	if now.Sub(m.lastDispatch) < meterMinInterval {
		m.mu.Unlock()
		return false
	}
	m.lastDispatch = now
	m.mu.Unlock()

	for _, fn := range m.snapshot() {
		safeDispatch(fn, level, logger)
	}
	return true
}

func safeDispatch(fn func(float64), level float64, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Warn("audio level subscriber panicked", "panic", r)
		}
	}()
	fn(level)
}

// run drives dispatch from ticks until stopCh closes.
func (m *meter) run(stopCh <-chan struct{}, ticks <-chan time.Time, level func() float64, logger *slog.Logger) {
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticks:
			m.dispatch(now, level(), logger)
		}
	}
}

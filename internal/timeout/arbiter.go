// Package timeout arms the bounded response wait that follows a dispatch.
package timeout

import (
	"sync"
	"time"
)

// DefaultWindow is the response wait armed after each dispatch.
const DefaultWindow = 60 * time.Second

// Arbiter keeps at most one live timer per call id. When a timer fires it
// hands the id to the fire callback; the lifecycle engine re-checks record
// state under its own lock before acting, so a fire that loses the race to a
// real response becomes a no-op there.
type Arbiter struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(id string)
}

// NewArbiter wires the fire callback invoked when a window elapses.
func NewArbiter(fire func(id string)) *Arbiter {
	return &Arbiter{
		timers: map[string]*time.Timer{},
		fire:   fire,
	}
}

// Start arms the window for id, replacing any timer already running for it.
func (a *Arbiter) Start(id string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[id]; ok {
		t.Stop()
	}
	a.timers[id] = time.AfterFunc(d, func() {
		a.mu.Lock()
		delete(a.timers, id)
		a.mu.Unlock()
		a.fire(id)
	})
}

// Cancel stops the timer for id. Idempotent; cancelling an id with no timer
// is a no-op. A callback already past Stop still runs, which downstream
// state checks tolerate.
func (a *Arbiter) Cancel(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[id]; ok {
		t.Stop()
		delete(a.timers, id)
	}
}

// Running reports whether a timer is live for id.
func (a *Arbiter) Running(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.timers[id]
	return ok
}

// StopAll cancels every live timer. Used at shutdown.
func (a *Arbiter) StopAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}

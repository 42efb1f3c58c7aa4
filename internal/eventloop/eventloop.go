// Package eventloop provides Go-backed timers for setTimeout/setInterval.
// The JS callbacks themselves stay inside the isolate (in
// globalThis.__vex_timers); Go tracks only scheduling metadata, which
// keeps the loop engine-agnostic.
package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/vexjs/vex/internal/core"
)

// timerEntry represents a pending setTimeout or setInterval callback.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// EventLoop manages timers registered from script. Drain must run on the
// goroutine that owns the isolate; registration and clearing happen from
// the JS callbacks that run there too, but the mutex also covers
// HasPending/Reset calls from the supervisor.
type EventLoop struct {
	mu     sync.Mutex
	timers map[int]*timerEntry
	nextID int
}

// New creates an empty EventLoop.
func New() *EventLoop {
	return &EventLoop{timers: make(map[int]*timerEntry)}
}

// RegisterTimer creates a timer entry and returns its ID. The JS-side
// callback is stored under the same ID in globalThis.__vex_timers.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// fireTimer invokes the JS-side callback for one timer.
func (el *EventLoop) fireTimer(iso core.Isolate, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__vex_timers[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__vex_timers[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = iso.Eval(js)
}

// Drain fires due timers in deadline order until none remain or the
// deadline is reached. Must be called on the isolate's goroutine.
func (el *EventLoop) Drain(iso core.Isolate, deadline time.Time) {
	for {
		el.mu.Lock()
		var next *timerEntry
		for _, t := range el.timers {
			if t.cleared {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		el.mu.Unlock()

		if next == nil {
			return
		}

		now := time.Now()
		if next.deadline.After(now) {
			wait := next.deadline.Sub(now)
			if now.Add(wait).After(deadline) {
				return
			}
			time.Sleep(wait)
		}
		if time.Now().After(deadline) {
			return
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(iso, timerID)
		iso.RunMicrotasks()
	}
}

// HasPending returns true if any timer is still scheduled.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0
}

// Reset drops all scheduled timers. Called on context disposal.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
}

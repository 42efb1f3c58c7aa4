package vex

import (
	"sync"

	"go.uber.org/zap"
)

// registry tracks live contexts in creation order so shutdown can
// release them newest-first.
type registry struct {
	mu   sync.Mutex
	byID map[string]*Context
	list []*Context
}

var live = &registry{byID: map[string]*Context{}}

func (r *registry) add(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.id] = c
	r.list = append(r.list, c)
}

func (r *registry) remove(c *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.id]; !ok {
		return
	}
	delete(r.byID, c.id)
	for i, other := range r.list {
		if other == c {
			r.list = append(r.list[:i], r.list[i+1:]...)
			break
		}
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// newestFirst snapshots the live contexts in reverse creation order.
func (r *registry) newestFirst() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Context, len(r.list))
	for i, c := range r.list {
		out[len(r.list)-1-i] = c
	}
	return out
}

// LiveContexts reports how many contexts exist and are not yet disposed.
func LiveContexts() int {
	return live.count()
}

// Shutdown disposes every live context, newest first. It blocks until
// all in-flight executions have been cancelled and released. Contexts
// created concurrently with Shutdown are not waited for.
func Shutdown() {
	contexts := live.newestFirst()
	if len(contexts) == 0 {
		return
	}
	Logger().Info("shutting down", zap.Int("contexts", len(contexts)))
	for _, c := range contexts {
		c.Dispose()
	}
}

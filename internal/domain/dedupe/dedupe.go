// Package dedupe tracks recently admitted submission IDs so that retried
// deliveries are not enqueued twice.
package dedupe

import (
	"context"
	"sync"
)

// defaultCapacity bounds the remembered IDs when no option is given.
const defaultCapacity = 50000

// Deduper admits each submission ID at most once within its window.
type Deduper interface {
	// Admit records id and reports true if it was not already present.
	Admit(ctx context.Context, id string) bool
	// Forget removes id so a later delivery is admitted again. Used when an
	// admitted submission could not be enqueued.
	Forget(ctx context.Context, id string)
	// Len returns the number of remembered IDs.
	Len() int
}

// Option applies a configuration option to the Window.
type Option func(*Window)

// WithCapacity sets how many IDs are remembered. Values <= 0 disable eviction.
func WithCapacity(n int) Option {
	return func(w *Window) {
		w.capacity = n
	}
}

// Window is a Deduper that forgets the oldest IDs first once full.
// The durable store remains the authority on duplicates; the window only
// keeps retried deliveries off the queue.
type Window struct {
	mu       sync.Mutex
	capacity int
	slots    []string
	next     int
	index    map[string]int
}

// New creates a Window with the given options.
func New(opts ...Option) *Window {
	w := &Window{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(w)
	}
	w.index = make(map[string]int)
	if w.capacity > 0 {
		w.slots = make([]string, w.capacity)
	}
	return w
}

// Admit implements Deduper.
func (w *Window) Admit(_ context.Context, id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.index[id]; ok {
		return false
	}
	if w.capacity <= 0 {
		w.index[id] = -1
		return true
	}
	if old := w.slots[w.next]; old != "" {
		delete(w.index, old)
	}
	w.slots[w.next] = id
	w.index[id] = w.next
	w.next = (w.next + 1) % w.capacity
	return true
}

// Forget implements Deduper.
func (w *Window) Forget(_ context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	slot, ok := w.index[id]
	if !ok {
		return
	}
	delete(w.index, id)
	if slot >= 0 {
		w.slots[slot] = ""
	}
}

// Len implements Deduper.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

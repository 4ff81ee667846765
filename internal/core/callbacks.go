package core

import "sync"

// CallbackList is an ordered set of subscriber callbacks. Registration order
// is dispatch order. Iteration works on a snapshot, so a callback may
// unsubscribe itself (or anyone else) mid-dispatch without skips or double
// invocations.
type CallbackList[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []callbackEntry[T]
}

type callbackEntry[T any] struct {
	id int
	fn func(T)
}

// Add registers fn and returns a removal func. Removing twice is a no-op.
func (l *CallbackList[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, callbackEntry[T]{id: id, fn: fn})
	return func() { l.remove(id) }
}

func (l *CallbackList[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *CallbackList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns the callbacks in registration order.
func (l *CallbackList[T]) Snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

package drone

import "sync"

// Listeners is an ordered, concurrency-safe set of callbacks.
// Callbacks run on the emitting goroutine and must not block for long.
type Listeners[T any] struct {
	mu     sync.Mutex
	nextID int
	items  []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Add registers fn and returns a function that removes it again.
func (l *Listeners[T]) Add(fn func(T)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.items = append(l.items, listener[T]{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		for i, it := range l.items {
			if it.id == id {
				l.items = append(l.items[:i:i], l.items[i+1:]...)
				return
			}
		}
	}
}

func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	items := make([]listener[T], len(l.items))
	copy(items, l.items)
	l.mu.Unlock()

	for _, it := range items {
		it.fn(v)
	}
}

func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.items)
}

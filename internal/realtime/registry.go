package realtime

import "sync"

// registry is a typed subscriber set. Subscribing returns an idempotent
// disposer; emit iterates a stable snapshot so handlers added or removed
// mid-dispatch never corrupt the in-progress iteration.
type registry[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
}

func (r *registry[T]) subscribe(fn func(T)) func() {
	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[int]func(T))
	}
	id := r.nextID
	r.nextID++
	r.handlers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

func (r *registry[T]) emit(v T) {
	r.mu.Lock()
	snapshot := make([]func(T), 0, len(r.handlers))
	for _, fn := range r.handlers {
		snapshot = append(snapshot, fn)
	}
	r.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

package async

import (
	"errors"
	"sync"
)

// ErrListDisposed is the panic value raised when a disposed List is used.
var ErrListDisposed = errors.New("async: list is disposed")

// List is an ordered mutable sequence with add, remove, and dispose
// subscription hooks. It backs the Queue's internal stores and the event
// source listener table.
//
// All methods are safe for concurrent use. Operating on a disposed list
// panics with ErrListDisposed: by the time a list is disposed its owner has
// torn down everything that could legitimately reach it.
type List[T any] struct {
	mu       sync.Mutex
	items    []T
	disposed bool

	nextHandle  int
	addSubs     map[int]func()
	removeSubs  map[int]func()
	disposeSubs map[int]func(reason string)
}

// NewList creates an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{
		addSubs:     make(map[int]func()),
		removeSubs:  make(map[int]func()),
		disposeSubs: make(map[int]func(reason string)),
	}
}

// checkDisposed must be called with l.mu held.
func (l *List[T]) checkDisposed() {
	if l.disposed {
		panic(ErrListDisposed)
	}
}

// Add appends an item and fires add subscriptions.
func (l *List[T]) Add(item T) {
	l.mu.Lock()
	l.checkDisposed()
	l.items = append(l.items, item)
	subs := collectSubs(l.addSubs)
	l.mu.Unlock()

	for _, s := range subs {
		s()
	}
}

// First returns the first item without removing it.
func (l *List[T]) First() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	return l.items[0]
}

// Last returns the last item without removing it.
func (l *List[T]) Last() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	return l.items[len(l.items)-1]
}

// RemoveFirst removes and returns the first item, firing remove
// subscriptions.
func (l *List[T]) RemoveFirst() T {
	return l.removeAt(0)
}

// RemoveLast removes and returns the last item, firing remove subscriptions.
func (l *List[T]) RemoveLast() T {
	l.mu.Lock()
	l.checkDisposed()
	idx := len(l.items) - 1
	l.mu.Unlock()
	return l.removeAt(idx)
}

func (l *List[T]) removeAt(index int) T {
	l.mu.Lock()
	l.checkDisposed()
	item := l.items[index]
	l.items = append(l.items[:index], l.items[index+1:]...)
	subs := collectSubs(l.removeSubs)
	l.mu.Unlock()

	for _, s := range subs {
		s()
	}
	return item
}

// Length reports the number of items.
func (l *List[T]) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	return len(l.items)
}

// Any reports whether the list holds at least one item.
func (l *List[T]) Any() bool {
	return l.Length() > 0
}

// All returns a copy of the current items in order.
func (l *List[T]) All() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// OnAdd registers a callback invoked after every Add. The returned function
// detaches it.
func (l *List[T]) OnAdd(callback func()) (detach func()) {
	return l.subscribe(l.addSubs, callback)
}

// OnRemove registers a callback invoked after every removal. The returned
// function detaches it.
func (l *List[T]) OnRemove(callback func()) (detach func()) {
	return l.subscribe(l.removeSubs, callback)
}

func (l *List[T]) subscribe(table map[int]func(), callback func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	handle := l.nextHandle
	l.nextHandle++
	table[handle] = callback
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.disposed {
			delete(table, handle)
		}
	}
}

// OnDispose registers a callback invoked once when the list is disposed.
func (l *List[T]) OnDispose(callback func(reason string)) (detach func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkDisposed()
	handle := l.nextHandle
	l.nextHandle++
	l.disposeSubs[handle] = callback
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.disposed {
			delete(l.disposeSubs, handle)
		}
	}
}

// IsDisposed reports whether Dispose has been called.
func (l *List[T]) IsDisposed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed
}

// Dispose releases the list. Dispose is idempotent; every other operation on
// a disposed list panics.
func (l *List[T]) Dispose(reason string) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	l.items = nil
	subs := make([]func(string), 0, len(l.disposeSubs))
	for _, s := range l.disposeSubs {
		subs = append(subs, s)
	}
	l.addSubs = nil
	l.removeSubs = nil
	l.disposeSubs = nil
	l.mu.Unlock()

	for _, s := range subs {
		s(reason)
	}
}

func collectSubs(table map[int]func()) []func() {
	out := make([]func(), 0, len(table))
	for _, s := range table {
		out = append(out, s)
	}
	return out
}

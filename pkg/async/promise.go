// Package async provides the single-resolution future primitive and the
// promise-backed collection types (List, Queue) that the speechwire transport
// and orchestrator layers are built on.
//
// A Deferred is the write side of a future and its Promise the read side. A
// Deferred settles at most once: resolving or rejecting it a second time is a
// programming error and panics. Callbacks registered on an already-settled
// Promise fire immediately on the caller's goroutine; callbacks registered
// before settlement fire on the settling goroutine. Both behaviours are load
// bearing — the connection and session state machines rely on them.
package async

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// State describes the settlement state of a Deferred or Promise.
type State int

const (
	// StateNone means the promise has not settled yet.
	StateNone State = iota

	// StateResolved means the promise settled with a value.
	StateResolved

	// StateRejected means the promise settled with an error.
	StateRejected
)

// sink is the shared settlement core behind a Deferred/Promise pair.
type sink[T any] struct {
	mu    sync.Mutex
	state State
	value T
	err   error

	successHandlers []func(T)
	errorHandlers   []func(error)
	done            chan struct{}
}

func newSink[T any]() *sink[T] {
	return &sink[T]{done: make(chan struct{})}
}

func (s *sink[T]) resolve(value T) {
	s.mu.Lock()
	if s.state != StateNone {
		s.mu.Unlock()
		panic("async: cannot resolve a settled promise")
	}
	s.state = StateResolved
	s.value = value
	handlers := s.successHandlers
	s.detachHandlers()
	close(s.done)
	s.mu.Unlock()

	for _, h := range handlers {
		h(value)
	}
}

func (s *sink[T]) reject(err error) {
	if err == nil {
		err = errors.New("async: promise rejected with nil error")
	}
	s.mu.Lock()
	if s.state != StateNone {
		s.mu.Unlock()
		panic("async: cannot reject a settled promise")
	}
	s.state = StateRejected
	s.err = err
	handlers := s.errorHandlers
	s.detachHandlers()
	close(s.done)
	s.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// on registers settlement callbacks. Either callback may be nil. When the
// sink has already settled the matching callback runs before on returns.
func (s *sink[T]) on(success func(T), failure func(error)) {
	s.mu.Lock()
	switch s.state {
	case StateNone:
		if success != nil {
			s.successHandlers = append(s.successHandlers, success)
		}
		if failure != nil {
			s.errorHandlers = append(s.errorHandlers, failure)
		}
		s.mu.Unlock()
		return
	case StateResolved:
		value := s.value
		s.mu.Unlock()
		if success != nil {
			success(value)
		}
	case StateRejected:
		err := s.err
		s.mu.Unlock()
		if failure != nil {
			failure(err)
		}
	}
}

// detachHandlers must be called with s.mu held.
func (s *sink[T]) detachHandlers() {
	s.successHandlers = nil
	s.errorHandlers = nil
}

// Deferred is the write side of a single-resolution future.
type Deferred[T any] struct {
	sink    *sink[T]
	promise *Promise[T]
}

// NewDeferred creates an unsettled Deferred and its Promise.
func NewDeferred[T any]() *Deferred[T] {
	s := newSink[T]()
	return &Deferred[T]{sink: s, promise: &Promise[T]{sink: s}}
}

// Promise returns the read side of the deferred.
func (d *Deferred[T]) Promise() *Promise[T] { return d.promise }

// State reports the current settlement state.
func (d *Deferred[T]) State() State {
	d.sink.mu.Lock()
	defer d.sink.mu.Unlock()
	return d.sink.state
}

// Resolve settles the deferred with a value. Panics if already settled.
func (d *Deferred[T]) Resolve(value T) *Deferred[T] {
	d.sink.resolve(value)
	return d
}

// Reject settles the deferred with an error. Panics if already settled.
func (d *Deferred[T]) Reject(err error) *Deferred[T] {
	d.sink.reject(err)
	return d
}

// Promise is the read side of a single-resolution future.
type Promise[T any] struct {
	sink *sink[T]
}

// On registers success and failure callbacks. If the promise has already
// settled the matching callback is invoked synchronously before On returns;
// otherwise it is invoked from the goroutine that settles the promise.
// Either callback may be nil. Returns the promise for chaining.
func (p *Promise[T]) On(success func(T), failure func(error)) *Promise[T] {
	p.sink.on(success, failure)
	return p
}

// Finally registers a callback invoked on settlement regardless of outcome.
func (p *Promise[T]) Finally(callback func()) *Promise[T] {
	return p.On(func(T) { callback() }, func(error) { callback() })
}

// State reports the current settlement state.
func (p *Promise[T]) State() State {
	p.sink.mu.Lock()
	defer p.sink.mu.Unlock()
	return p.sink.state
}

// Result returns the settled value and error. ok is false while unsettled.
func (p *Promise[T]) Result() (value T, err error, ok bool) {
	p.sink.mu.Lock()
	defer p.sink.mu.Unlock()
	return p.sink.value, p.sink.err, p.sink.state != StateNone
}

// Wait blocks until the promise settles or ctx is cancelled. It bridges the
// callback-driven core to ordinary blocking Go code; the CLI and tests use it.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.sink.done:
		p.sink.mu.Lock()
		defer p.sink.mu.Unlock()
		return p.sink.value, p.sink.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// onSettled adapts the typed promise for WhenAll.
func (p *Promise[T]) onSettled(success func(), failure func(error)) {
	p.sink.on(func(T) { success() }, failure)
}

// Awaitable is any promise, independent of its value type. Satisfied by
// every *Promise[T].
type Awaitable interface {
	onSettled(success func(), failure func(error))
}

// FromResult returns an already-resolved promise.
func FromResult[T any](value T) *Promise[T] {
	d := NewDeferred[T]()
	d.Resolve(value)
	return d.Promise()
}

// FromError returns an already-rejected promise.
func FromError[T any](err error) *Promise[T] {
	d := NewDeferred[T]()
	d.Reject(err)
	return d.Promise()
}

// Then chains a transformation onto p's success. The returned promise
// resolves with the transformation's result, rejects with its error, and
// passes p's own rejection through untouched.
func Then[T, U any](p *Promise[T], fn func(T) (U, error)) *Promise[U] {
	d := NewDeferred[U]()
	p.On(func(value T) {
		out, err := fn(value)
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(out)
	}, func(err error) {
		d.Reject(err)
	})
	return d.Promise()
}

// ThenPromise chains a promise-returning continuation onto p's success. The
// returned promise mirrors the continuation's settlement; p's rejection
// passes through untouched.
func ThenPromise[T, U any](p *Promise[T], fn func(T) *Promise[U]) *Promise[U] {
	d := NewDeferred[U]()
	p.On(func(value T) {
		next := fn(value)
		if next == nil {
			d.Reject(errors.New("async: continuation returned nil promise"))
			return
		}
		next.On(func(out U) { d.Resolve(out) }, func(err error) { d.Reject(err) })
	}, func(err error) {
		d.Reject(err)
	})
	return d.Promise()
}

// ContinueWith runs the continuation on settlement of p, success or failure,
// handing it the settled value and error. The returned promise reflects the
// continuation's own outcome.
func ContinueWith[T, U any](p *Promise[T], fn func(value T, err error) (U, error)) *Promise[U] {
	d := NewDeferred[U]()
	settle := func(value T, err error) {
		out, cerr := fn(value, err)
		if cerr != nil {
			d.Reject(cerr)
			return
		}
		d.Resolve(out)
	}
	p.On(func(value T) {
		settle(value, nil)
	}, func(err error) {
		var zero T
		settle(zero, err)
	})
	return d.Promise()
}

// WhenAll resolves once every input promise has settled. It does not
// short-circuit: a failure is recorded and the remaining promises are still
// awaited. If any input failed, the result rejects with all error messages
// joined; otherwise it resolves true.
func WhenAll(promises ...Awaitable) *Promise[bool] {
	if len(promises) == 0 {
		panic("async: WhenAll requires at least one promise")
	}

	d := NewDeferred[bool]()

	var mu sync.Mutex
	var errs []string
	remaining := len(promises)

	settled := func(err error) {
		mu.Lock()
		if err != nil {
			errs = append(errs, err.Error())
		}
		remaining--
		finished := remaining == 0
		joined := strings.Join(errs, ", ")
		mu.Unlock()

		if !finished {
			return
		}
		if joined != "" {
			d.Reject(errors.New(joined))
			return
		}
		d.Resolve(true)
	}

	for _, p := range promises {
		p.onSettled(func() { settled(nil) }, func(err error) { settled(err) })
	}

	return d.Promise()
}

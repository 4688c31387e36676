package async

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrQueueDisposed is wrapped into every rejection handed out by a disposed
// Queue.
var ErrQueueDisposed = fmt.Errorf("async: queue is disposed")

type subscriberKind int

const (
	subscriberDequeue subscriberKind = iota
	subscriberPeek
)

type subscriber[T any] struct {
	deferred *Deferred[T]
	kind     subscriberKind
}

// Queue is an unbounded FIFO of resolved-or-pending items. Writers enqueue
// values or promises of values; readers register as pending subscribers that
// are satisfied in FIFO order as staged promises settle and land. Arrival of
// data and requests for data both funnel into the same drain routine.
//
// A staged promise that settles with an error is dropped (logged, never
// delivered). Once DrainAndDispose has been called the queue rejects all new
// operations and settles every outstanding subscriber with the dispose
// reason.
type Queue[T any] struct {
	mu            sync.Mutex
	promiseStore  *List[*Promise[T]]
	list          *List[T]
	subscribers   *List[*subscriber[T]]
	detachAdd     func()
	disposing     bool
	disposed      bool
	disposeReason string
	disposeDone   *Promise[bool]

	draining     atomic.Bool
	pendingDrain atomic.Bool
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		promiseStore: NewList[*Promise[T]](),
		list:         NewList[T](),
		subscribers:  NewList[*subscriber[T]](),
	}
	// Items appended to the backing list outside a drain pass (or by a
	// racing writer) still wake pending subscribers.
	q.detachAdd = q.list.OnAdd(func() {
		if !q.draining.Load() {
			q.drain()
		}
	})
	return q
}

// Enqueue appends a ready item.
func (q *Queue[T]) Enqueue(item T) error {
	return q.EnqueueFromPromise(FromResult(item))
}

// EnqueueFromPromise stages a pending item. The queue preserves submission
// order: the item becomes readable only once every earlier staged promise has
// settled.
func (q *Queue[T]) EnqueueFromPromise(p *Promise[T]) error {
	q.mu.Lock()
	if q.disposing || q.disposed {
		reason := q.disposeReason
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueDisposed, reason)
	}
	q.promiseStore.Add(p)
	q.mu.Unlock()

	p.Finally(q.drain)
	return nil
}

// Dequeue returns a promise for the next item, removing it from the queue.
func (q *Queue[T]) Dequeue() *Promise[T] {
	return q.subscribe(subscriberDequeue)
}

// Peek returns a promise for the next item without removing it.
func (q *Queue[T]) Peek() *Promise[T] {
	return q.subscribe(subscriberPeek)
}

func (q *Queue[T]) subscribe(kind subscriberKind) *Promise[T] {
	q.mu.Lock()
	if q.disposing || q.disposed {
		reason := q.disposeReason
		q.mu.Unlock()
		return FromError[T](fmt.Errorf("%w: %s", ErrQueueDisposed, reason))
	}
	d := NewDeferred[T]()
	q.subscribers.Add(&subscriber[T]{deferred: d, kind: kind})
	q.mu.Unlock()

	q.drain()
	return d.Promise()
}

// Length reports the number of materialized, ready-to-read items.
func (q *Queue[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disposed {
		return 0
	}
	return q.list.Length()
}

// IsDisposed reports whether DrainAndDispose has been called.
func (q *Queue[T]) IsDisposed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disposing || q.disposed
}

// drain matches staged arrivals against pending subscribers. At most one
// drain pass runs at a time; concurrent triggers coalesce into a follow-up
// pass.
func (q *Queue[T]) drain() {
	if !q.draining.CompareAndSwap(false, true) {
		q.pendingDrain.Store(true)
		return
	}
	for {
		q.drainPass()
		q.draining.Store(false)
		if !q.pendingDrain.CompareAndSwap(true, false) {
			return
		}
		if !q.draining.CompareAndSwap(false, true) {
			// Another goroutine picked the work up.
			return
		}
	}
}

func (q *Queue[T]) drainPass() {
	for {
		q.mu.Lock()
		if q.disposed {
			q.mu.Unlock()
			return
		}

		// Move the contiguous prefix of settled staged promises into the
		// materialized list. Errored promises are dropped.
		for q.promiseStore.Any() {
			front := q.promiseStore.First()
			value, err, settled := front.Result()
			if !settled {
				break
			}
			q.promiseStore.RemoveFirst()
			if err != nil {
				slog.Debug("async: dropping errored queue item", "err", err)
				continue
			}
			q.list.Add(value)
		}

		if q.disposing || !q.list.Any() || !q.subscribers.Any() {
			q.mu.Unlock()
			return
		}

		sub := q.subscribers.RemoveFirst()
		var value T
		if sub.kind == subscriberDequeue {
			value = q.list.RemoveFirst()
		} else {
			value = q.list.First()
		}
		q.mu.Unlock()

		// Resolve outside the lock: the continuation may immediately call
		// back into the queue.
		sub.deferred.Resolve(value)
	}
}

// DrainAndDispose shuts the queue down. New operations are rejected
// immediately, every outstanding subscriber is rejected with reason, and the
// add-notification on the backing list is detached. If unsettled writes
// remain the queue waits for all of them, then feeds every item still in the
// list through pendingItemProcessor (may be nil) and releases the stores.
// The returned promise resolves once teardown is complete.
func (q *Queue[T]) DrainAndDispose(pendingItemProcessor func(T), reason string) *Promise[bool] {
	q.mu.Lock()
	if q.disposing || q.disposed {
		done := q.disposeDone
		q.mu.Unlock()
		return done
	}
	q.disposing = true
	q.disposeReason = reason

	var rejected []*subscriber[T]
	for q.subscribers.Any() {
		rejected = append(rejected, q.subscribers.RemoveFirst())
	}
	if q.detachAdd != nil {
		q.detachAdd()
		q.detachAdd = nil
	}
	staged := q.promiseStore.All()

	d := NewDeferred[bool]()
	q.disposeDone = d.Promise()
	q.mu.Unlock()

	rejectErr := fmt.Errorf("%w: %s", ErrQueueDisposed, reason)
	for _, sub := range rejected {
		sub.deferred.Reject(rejectErr)
	}

	finalize := func() {
		q.mu.Lock()
		items := q.list.All()
		q.mu.Unlock()

		if pendingItemProcessor != nil {
			for _, item := range items {
				pendingItemProcessor(item)
			}
		}

		q.mu.Lock()
		q.disposed = true
		q.promiseStore.Dispose(reason)
		q.list.Dispose(reason)
		q.subscribers.Dispose(reason)
		q.mu.Unlock()

		d.Resolve(true)
	}

	if len(staged) == 0 {
		finalize()
	} else {
		awaitables := make([]Awaitable, len(staged))
		for i, p := range staged {
			awaitables[i] = p
		}
		// Every in-flight write either lands in the list (and is handed to
		// the processor) or failed on its own; nothing is silently dropped.
		WhenAll(awaitables...).Finally(finalize)
	}

	return d.Promise()
}

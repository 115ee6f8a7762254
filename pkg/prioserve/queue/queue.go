/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package queue provides the concurrent-safe, blocking priority queue that sits between the prioserve listener and its
// workers.
//
// The queue is an array-backed binary max-heap (0-indexed, children of i at 2i+1 and 2i+2) ordered by an
// `ordering.Policy`: the root is always a request that every other pending request compares less than or equal to.
// All state is guarded by a single mutex. A condition variable on that mutex suspends dequeuers while the heap is
// empty; a second one wakes callers of `WaitEmpty` when the heap drains.
//
// # Wake-up Guarantees
//
//   - `Enqueue` mutates the heap and signals one waiter before releasing the lock, so a wake-up is never issued for a
//     mutation that is not yet visible.
//   - Dequeuers check the heap before every wait and re-check after every wake-up. A dequeuer arriving after an
//     `Enqueue` finds the item and never waits, and a dequeuer whose item was taken by another worker waits again.
//   - `Close` broadcasts, so every blocked dequeuer returns `types.ErrQueueClosed`.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

// Option configures a RequestQueue at construction.
type Option func(*RequestQueue)

// WithCapacity bounds the number of pending requests. Values <= 0 leave the queue unbounded.
func WithCapacity(capacity int) Option {
	return func(q *RequestQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// RequestQueue is a blocking priority queue of requests. The zero value is not usable; construct with `New`.
type RequestQueue struct {
	policy   ordering.Policy
	capacity int

	mu sync.Mutex
	// notEmpty is signalled on every successful Enqueue and broadcast on Close or context cancellation.
	notEmpty *sync.Cond
	// emptied is broadcast whenever the heap becomes empty, on Close, and on context cancellation.
	emptied *sync.Cond
	items   []*types.Request
	closed  bool
}

// New creates an empty queue ordered by policy.
func New(policy ordering.Policy, opts ...Option) *RequestQueue {
	if policy == nil {
		panic("queue: ordering policy cannot be nil")
	}
	q := &RequestQueue{policy: policy}
	q.notEmpty = sync.NewCond(&q.mu)
	q.emptied = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the ordering policy of the queue.
func (q *RequestQueue) Policy() ordering.Policy {
	return q.policy
}

// Capacity returns the configured bound, or 0 when unbounded.
func (q *RequestQueue) Capacity() int {
	return q.capacity
}

// Len returns the number of pending requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsClosed reports whether Close has been called.
func (q *RequestQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Enqueue inserts req and wakes one blocked dequeuer. It never blocks on other callers beyond the brief critical
// section.
// Time complexity: O(log n).
//
// Returns an error wrapping `types.ErrRejected` and either `types.ErrQueueAtCapacity` or `types.ErrQueueClosed` when
// the request is refused; the queue is unchanged in that case.
func (q *RequestQueue) Enqueue(req *types.Request) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", types.ErrRejected)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("%w: %w", types.ErrRejected, types.ErrQueueClosed)
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return fmt.Errorf("%w: %w (capacity %d)", types.ErrRejected, types.ErrQueueAtCapacity, q.capacity)
	}

	q.items = append(q.items, req)
	q.up(len(q.items) - 1)
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the highest-priority pending request, suspending while the queue is empty.
// Time complexity: O(log n).
//
// Once the queue is closed it returns `types.ErrQueueClosed`, immediately and on every subsequent call, even if
// requests are still pending.
func (q *RequestQueue) Dequeue() (*types.Request, error) {
	return q.DequeueContext(context.Background())
}

// DequeueContext is Dequeue with a cancellable wait. If ctx is done while the queue is empty it returns ctx.Err().
// A pending request is preferred over a concurrent cancellation.
func (q *RequestQueue) DequeueContext(ctx context.Context) (*types.Request, error) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, q.wakeAll)
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, types.ErrQueueClosed
	}
	return q.pop(), nil
}

// Snapshot returns every pending request in descending priority order without modifying the queue. The lock is held
// only while copying; sorting happens on the private copy.
// Time complexity: O(n log n).
func (q *RequestQueue) Snapshot() []*types.Request {
	q.mu.Lock()
	sorted := make([]*types.Request, len(q.items))
	copy(sorted, q.items)
	q.mu.Unlock()

	heapSort(sorted, q.policy)
	return sorted
}

// Close stops the queue. All blocked and future dequeuers receive `types.ErrQueueClosed`, and future enqueues are
// rejected. Close is idempotent.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.emptied.Broadcast()
}

// Drain atomically removes all pending requests and returns them in descending priority order. The queue is empty
// afterwards. It is typically called after Close to release the connections of requests that will never be served.
func (q *RequestQueue) Drain() []*types.Request {
	q.mu.Lock()
	drained := q.items
	q.items = nil
	if len(drained) > 0 {
		q.emptied.Broadcast()
	}
	q.mu.Unlock()

	heapSort(drained, q.policy)
	return drained
}

// WaitEmpty blocks until no requests are pending. It returns `types.ErrQueueClosed` if the queue is closed while
// requests remain, or ctx.Err() if ctx is done first.
func (q *RequestQueue) WaitEmpty(ctx context.Context) error {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, q.wakeAll)
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		if q.closed {
			return types.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		q.emptied.Wait()
	}
	return nil
}

// wakeAll wakes every waiter so it can observe a context cancellation.
func (q *RequestQueue) wakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.emptied.Broadcast()
}

// pop removes the root. The caller must hold the lock and ensure the heap is non-empty.
func (q *RequestQueue) pop() *types.Request {
	n := len(q.items) - 1
	top := q.items[0]
	if top == nil {
		panic(fmt.Sprintf("invariant violation: nil request at heap root (len %d)", n+1))
	}

	last := q.items[n]
	q.items[n] = nil // avoid memory leak
	q.items = q.items[:n]
	if n > 0 {
		q.items[0] = last
		q.down(0)
	} else {
		q.emptied.Broadcast()
	}
	return top
}

// up moves the item at index i towards the root until its parent outranks or equals it.
func (q *RequestQueue) up(i int) {
	item := q.items[i]
	for i > 0 {
		parent := (i - 1) / 2
		if q.policy.Compare(item, q.items[parent]) <= 0 {
			break
		}
		q.items[i] = q.items[parent]
		i = parent
	}
	q.items[i] = item
}

// down moves the item at index i towards the leaves, always following the higher-ranked child, and stops as soon as
// the item outranks or equals both children.
func (q *RequestQueue) down(i int) {
	n := len(q.items)
	item := q.items[i]
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.policy.Compare(q.items[right], q.items[left]) > 0 {
			child = right
		}
		if q.policy.Compare(item, q.items[child]) >= 0 {
			break
		}
		q.items[i] = q.items[child]
		i = child
	}
	q.items[i] = item
}

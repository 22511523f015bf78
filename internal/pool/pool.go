// Package pool implements a bounded pool of disposable, expensive-to-create
// resources (typically storage cursors). Items above capacity are created
// freely but never cached; only the cached count is bounded.
package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/klingon-tech/chainstate/internal/metrics"
)

// ErrTimeout is returned by Take when no item becomes available before the
// deadline.
var ErrTimeout = errors.New("pool: timed out waiting for an item")

// ErrClosed is returned by Take once the pool has been closed.
var ErrClosed = errors.New("pool: closed")

// state is the pool's coarse occupancy, useful for metrics/logging; it is
// not itself load-bearing for correctness.
type state int

const (
	Empty state = iota
	Partial
	Full
)

// Pool is a bounded cache of up to capacity items of type T, created on
// demand by factory and returned to service by prepare after use.
type Pool[T any] struct {
	capacity int
	factory  func() (T, error)
	prepare  func(T) error
	dispose  func(T)

	mu     sync.Mutex
	items  []T
	closed bool

	freed chan struct{}
}

// New builds a pool. factory creates a new item when none is cached;
// prepare resets a returned item before it re-enters the cache (may be
// nil); dispose releases an item that overflows capacity (may be nil).
func New[T any](capacity int, factory func() (T, error), prepare func(T) error, dispose func(T)) *Pool[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Pool[T]{
		capacity: capacity,
		factory:  factory,
		prepare:  prepare,
		dispose:  dispose,
		items:    make([]T, 0, capacity),
		freed:    make(chan struct{}, 1),
	}
}

// Handle is a borrowed item; callers must call Drop exactly once.
type Handle[T any] struct {
	pool *Pool[T]
	item T
}

// Item returns the borrowed value.
func (h *Handle[T]) Item() T { return h.item }

// Drop runs the pool's prepare hook and returns the item to the cache,
// disposing of it instead if the cache is already at capacity.
func (h *Handle[T]) Drop() error {
	return h.pool.put(h.item)
}

// Take pops a cached item if one is available, otherwise creates one via
// factory, however many items are already checked out. Only when factory
// returns an error does it block on the item-freed signal until ctx is done.
func (p *Pool[T]) Take(ctx context.Context) (*Handle[T], error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if n := len(p.items); n > 0 {
			item := p.items[n-1]
			p.items = p.items[:n-1]
			p.mu.Unlock()
			metrics.PoolCachedItems.Set(float64(n - 1))
			return &Handle[T]{pool: p, item: item}, nil
		}
		p.mu.Unlock()

		item, err := p.factory()
		if err == nil {
			metrics.PoolCursorsCreated.Inc()
			return &Handle[T]{pool: p, item: item}, nil
		}

		select {
		case <-p.freed:
			continue
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

func (p *Pool[T]) put(item T) error {
	if p.prepare != nil {
		if err := p.prepare(item); err != nil {
			p.disposeItem(item)
			return err
		}
	}

	p.mu.Lock()
	if p.closed || len(p.items) >= p.capacity {
		p.mu.Unlock()
		p.disposeItem(item)
		return nil
	}
	p.items = append(p.items, item)
	n := len(p.items)
	p.mu.Unlock()
	metrics.PoolCachedItems.Set(float64(n))

	select {
	case p.freed <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pool[T]) disposeItem(item T) {
	if p.dispose != nil {
		p.dispose(item)
	}
}

// cachedLen reports how many items are currently cached, for tests
// asserting the cache never grows past capacity.
func (p *Pool[T]) cachedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// State reports the pool's current coarse occupancy.
func (p *Pool[T]) State() state {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case len(p.items) == 0:
		return Empty
	case len(p.items) < p.capacity:
		return Partial
	default:
		return Full
	}
}

// Close marks the pool closed; subsequent Take calls fail with ErrClosed.
// Already-checked-out handles may still be returned, and are disposed
// rather than cached.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	p.closed = true
	items := p.items
	p.items = nil
	p.mu.Unlock()

	for _, item := range items {
		p.disposeItem(item)
	}
}

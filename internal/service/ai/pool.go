package ai

import (
	"context"
	"sync"
)

// pool hands out a fixed set of items that are not safe for concurrent use.
// Once closed, acquire fails and released items are closed instead of pooled.
type pool[T any] struct {
	items   chan T
	closeFn func(T)
	done    chan struct{}

	mu     sync.Mutex
	size   int
	closed bool
}

func newPool[T any](capacity int, closeFn func(T)) *pool[T] {
	return &pool[T]{
		items:   make(chan T, capacity),
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
}

// add puts a new item into the pool. It must not exceed the capacity.
func (p *pool[T]) add(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeFn(item)
		return
	}
	p.items <- item
	p.size++
}

func (p *pool[T]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *pool[T]) ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.size > 0
}

func (p *pool[T]) acquire(ctx context.Context) (T, error) {
	var zero T
	if !p.ready() {
		return zero, ErrModelNotLoaded
	}
	select {
	case item := <-p.items:
		return item, nil
	case <-p.done:
		return zero, ErrModelNotLoaded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *pool[T]) release(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.closeFn(item)
		return
	}
	p.items <- item
}

// close closes every pooled item. Items still checked out are closed when
// they are released.
func (p *pool[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.size = 0
	close(p.done)
	for {
		select {
		case item := <-p.items:
			p.closeFn(item)
		default:
			return
		}
	}
}

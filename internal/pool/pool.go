// Package pool provides a bounded free list for per-call scratch objects.
//
// Objects are reset when they are returned and handed out again by Get.
// Unlike sync.Pool the capacity is fixed: at most Cap idle objects are
// retained, and objects returned to a full pool are dropped for the
// garbage collector.
//
//	buf := p.Get()
//	defer p.Put(buf)
package pool

import "sync/atomic"

// DefaultSize is the idle capacity used when a non-positive size is given.
const DefaultSize = 64

// Pool is a bounded, channel-backed free list of T values.
type Pool[T any] struct {
	idle    chan T
	newFn   func() T
	reset   func(T)
	created atomic.Int64
	reused  atomic.Int64
}

// New returns a pool retaining at most size idle values. newFn allocates a
// value on a miss; reset, if not nil, clears a value before it is retained.
func New[T any](size int, newFn func() T, reset func(T)) *Pool[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool[T]{
		idle:  make(chan T, size),
		newFn: newFn,
		reset: reset,
	}
}

// Get returns an idle value or a new one. It never blocks.
func (p *Pool[T]) Get() T {
	select {
	case v := <-p.idle:
		p.reused.Add(1)
		return v
	default:
		p.created.Add(1)
		return p.newFn()
	}
}

// Put resets v and retains it if the pool has room. The caller must not use
// v after Put returns.
func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	select {
	case p.idle <- v:
	default:
	}
}

// Stats holds allocation counters of a pool.
type Stats struct {
	Idle    int
	Cap     int
	Created int64
	Reused  int64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Idle:    len(p.idle),
		Cap:     cap(p.idle),
		Created: p.created.Load(),
		Reused:  p.reused.Load(),
	}
}

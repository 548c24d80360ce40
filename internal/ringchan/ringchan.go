// Package ringchan provides a bounded channel that never blocks its writers.
package ringchan

import "sync/atomic"

// Chan is a buffered channel with overwrite-oldest semantics: when the buffer
// is full, Push drops the oldest queued value to make room.
//
// Readers use C like an ordinary channel. Only one goroutine may Push at a
// time; concurrent readers are fine.
type Chan[T any] struct {
	ch    chan T
	stats Stats
}

// Stats are lock-free counters of what went through a Chan.
type Stats struct {
	Pushed  int64
	Dropped int64
}

// New creates a Chan holding at most capacity values.
func New[T any](capacity int) *Chan[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Chan[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (c *Chan[T]) C() <-chan T {
	return c.ch
}

// Push enqueues v, discarding the oldest value if the buffer is full.
// It reports whether a value was discarded.
func (c *Chan[T]) Push(v T) bool {
	dropped := false
	for {
		select {
		case c.ch <- v:
			atomic.AddInt64(&c.stats.Pushed, 1)
			return dropped
		default:
		}

		// a reader may drain the slot between the two selects
		select {
		case <-c.ch:
			atomic.AddInt64(&c.stats.Dropped, 1)
			dropped = true
		default:
		}
	}
}

// TryPush enqueues v only if there is room.
func (c *Chan[T]) TryPush(v T) bool {
	select {
	case c.ch <- v:
		atomic.AddInt64(&c.stats.Pushed, 1)
		return true
	default:
		return false
	}
}

func (c *Chan[T]) Len() int { return len(c.ch) }
func (c *Chan[T]) Cap() int { return cap(c.ch) }

// Close closes the receive side. Push after Close panics.
func (c *Chan[T]) Close() {
	close(c.ch)
}

// Stats returns a snapshot of the counters.
func (c *Chan[T]) Stats() Stats {
	return Stats{
		Pushed:  atomic.LoadInt64(&c.stats.Pushed),
		Dropped: atomic.LoadInt64(&c.stats.Dropped),
	}
}

// Package ids hands out strictly increasing integer identifiers used to
// correlate outbound requests with asynchronous replies.
package ids

import "sync/atomic"

// Allocator is safe for concurrent use. The zero value starts at 1.
type Allocator struct {
	next atomic.Int64
}

// New returns an allocator whose first Next() is base.
func New(base int64) *Allocator {
	a := &Allocator{}
	a.next.Store(base - 1)
	return a
}

// Next returns a fresh identifier, greater than every identifier returned before.
func (a *Allocator) Next() int64 {
	return a.next.Add(1)
}

// Peek returns the last identifier handed out without allocating.
func (a *Allocator) Peek() int64 {
	return a.next.Load()
}

// Advance moves the counter so the next identifier is greater than floor.
// Used when the broker reports a higher valid id than the local base.
func (a *Allocator) Advance(floor int64) {
	for {
		cur := a.next.Load()
		if cur >= floor {
			return
		}
		if a.next.CompareAndSwap(cur, floor) {
			return
		}
	}
}

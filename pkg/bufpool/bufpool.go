// Package bufpool pools the byte slices used to stage wire frames, keeping
// per-message allocations off the hot path of busy connections.
//
// Two size classes cover the protocol: most control frames fit the small
// class, and the large class matches the frame size limit. Requests beyond
// the large class fall back to a plain allocation and are not pooled.
package bufpool

import "sync"

const (
	// SmallSize fits typical control messages.
	SmallSize = 4 << 10

	// LargeSize matches the maximum frame the codec accepts.
	LargeSize = 512 << 10
)

var (
	small = sync.Pool{New: func() any { b := make([]byte, SmallSize); return &b }}
	large = sync.Pool{New: func() any { b := make([]byte, LargeSize); return &b }}
)

// Get returns a slice of length n backed by a pooled buffer when n fits a
// size class. The contents are not zeroed.
func Get(n int) []byte {
	switch {
	case n <= SmallSize:
		return (*small.Get().(*[]byte))[:n]
	case n <= LargeSize:
		return (*large.Get().(*[]byte))[:n]
	default:
		return make([]byte, n)
	}
}

// Put returns a buffer obtained from Get to its pool. Oversized buffers are
// dropped for the GC.
func Put(b []byte) {
	c := cap(b)
	if c < SmallSize {
		return
	}
	b = b[:c]
	switch {
	case c == SmallSize:
		small.Put(&b)
	case c == LargeSize:
		large.Put(&b)
	}
}

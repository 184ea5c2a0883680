package serf

import (
	"sync/atomic"
)

// LamportTime is a monotonically increasing logical timestamp, shared by
// the member, event, and query clocks.
type LamportTime uint64

// LamportClock is a thread-safe Lamport logical clock.
type LamportClock struct {
	counter uint64
}

// Time returns the current value of the clock.
func (l *LamportClock) Time() LamportTime {
	return LamportTime(atomic.LoadUint64(&l.counter))
}

// Increment atomically advances and returns the new value of the clock.
func (l *LamportClock) Increment() LamportTime {
	return LamportTime(atomic.AddUint64(&l.counter, 1))
}

// Witness advances the clock to max(current, v+1) after observing v from
// another node, so every future Increment on this clock post-dates v.
func (l *LamportClock) Witness(v LamportTime) {
	for {
		cur := atomic.LoadUint64(&l.counter)
		other := uint64(v)
		if other < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&l.counter, cur, other+1) {
			return
		}
	}
}

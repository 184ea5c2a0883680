package serf

import (
	"time"
)

// Coalescer batches events passed through a coalesceLoop. Any Event the
// Coalescer declines to Handle is forwarded untouched.
type Coalescer interface {
	// Handle reports whether e should be coalesced rather than passed
	// straight through to the destination channel.
	Handle(Event) bool

	// Coalesce folds e into the Coalescer's pending state.
	Coalesce(Event)

	// Flush emits the pending state to outChan and resets it.
	Flush(outChan chan<- Event)
}

// coalescedEventCh wraps outCh with a buffered intake channel whose
// events are coalesced via c before being forwarded.
func coalescedEventCh(outCh chan<- Event, shutdownCh <-chan struct{},
	coalescePeriod, quiescentPeriod time.Duration, c Coalescer) chan<- Event {
	inCh := make(chan Event, 1024)
	go coalesceLoop(inCh, outCh, shutdownCh, coalescePeriod, quiescentPeriod, c)
	return inCh
}

// coalesceLoop drains inCh, handing each event to c. A batch flushes
// either coalescePeriod after it starts or quiescentPeriod after the
// last event it absorbed, whichever comes first.
func coalesceLoop(inCh <-chan Event, outCh chan<- Event, shutdownCh <-chan struct{},
	coalescePeriod, quiescentPeriod time.Duration, c Coalescer) {
	var quantum, quiescent <-chan time.Time

	for {
		select {
		case e, ok := <-inCh:
			if !ok {
				return
			}
			if !c.Handle(e) {
				outCh <- e
				continue
			}

			if quantum == nil {
				quantum = time.After(coalescePeriod)
			}
			quiescent = time.After(quiescentPeriod)
			c.Coalesce(e)

		case <-quantum:
			c.Flush(outCh)
			quantum, quiescent = nil, nil

		case <-quiescent:
			c.Flush(outCh)
			quantum, quiescent = nil, nil

		case <-shutdownCh:
			c.Flush(outCh)
			return
		}
	}
}

package serf

import (
	"time"
)

// userEventBatch holds every UserEvent seen so far at a name's highest
// observed Lamport time; ties at that time all survive.
type userEventBatch struct {
	LTime  LamportTime
	Events []Event
}

// userEventCoalescer collapses a burst of same-named user events down
// to the copies carrying the newest Lamport time, so a cluster-wide
// event doesn't fan out once per relay.
type userEventCoalescer struct {
	events map[string]*userEventBatch
}

// coalescedUserEventCh wraps outCh so user events absorbed within a
// coalesce window are reduced to their highest-Lamport-time copies
// before being forwarded.
func coalescedUserEventCh(outCh chan<- Event, shutdownCh <-chan struct{},
	coalescePeriod, quiescentPeriod time.Duration) chan<- Event {
	inCh := make(chan Event, 1024)
	c := &userEventCoalescer{events: make(map[string]*userEventBatch)}
	go coalesceLoop(inCh, outCh, shutdownCh, coalescePeriod, quiescentPeriod, c)
	return inCh
}

func (c *userEventCoalescer) Handle(e Event) bool {
	return e.EventType() == EventUser
}

func (c *userEventCoalescer) Coalesce(e Event) {
	user := e.(UserEvent)
	batch, ok := c.events[user.Name]

	switch {
	case !ok || batch.LTime < user.LTime:
		c.events[user.Name] = &userEventBatch{LTime: user.LTime, Events: []Event{e}}
	case batch.LTime == user.LTime:
		batch.Events = append(batch.Events, e)
	}
}

func (c *userEventCoalescer) Flush(outCh chan<- Event) {
	for _, batch := range c.events {
		for _, e := range batch.Events {
			outCh <- e
		}
	}
	c.events = make(map[string]*userEventBatch)
}

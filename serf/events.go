package serf

import (
	"fmt"

	"github.com/armon/go-metrics"
)

// UserEvent broadcasts a user-defined event to the cluster. Coalesce
// flags the event as safe to collapse with later same-named events
// bearing the same Lamport time.
func (s *Serf) UserEvent(name string, payload []byte, coalesce bool) error {
	if len(payload) > s.config.UserEventSizeLimit {
		return fmt.Errorf("user event exceeds size limit of %d bytes", s.config.UserEventSizeLimit)
	}

	ltime := s.eventClock.Increment()
	msg := messageUserEvent{LTime: ltime, Name: name, Payload: payload, CC: coalesce}

	s.eventLock.Lock()
	s.recordEvent(&msg)
	s.eventLock.Unlock()

	if s.snapshotter != nil {
		s.snapshotter.RecordUserEvent(UserEvent{LTime: ltime, Name: name, Payload: payload, Coalesce: coalesce})
	}

	raw, err := encodeMessage(messageUserEventType, &msg)
	if err != nil {
		return err
	}

	key := ""
	if coalesce {
		key = "event:" + name
	}
	s.eventBroadcasts.QueueBroadcast(&serfBroadcast{key: key, msg: raw})
	metrics.IncrCounter([]string{"serf", "events"}, 1)
	metrics.IncrCounter([]string{"serf", "events", name}, 1)
	return nil
}

// handleUserEvent applies an incoming user event: Witness, dedupe
// against the ring buffer, fire to the event channel, and report whether
// it should be rebroadcast.
func (s *Serf) handleUserEvent(msg *messageUserEvent) bool {
	s.eventClock.Witness(msg.LTime)

	s.eventLock.Lock()
	defer s.eventLock.Unlock()

	if msg.LTime < s.eventMinTime {
		return false
	}
	if s.recordEvent(msg) {
		return false
	}

	if s.snapshotter != nil {
		s.snapshotter.RecordUserEvent(UserEvent{LTime: msg.LTime, Name: msg.Name, Payload: msg.Payload, Coalesce: msg.CC})
	}

	if s.config.EventCh != nil {
		select {
		case s.config.EventCh <- UserEvent{LTime: msg.LTime, Name: msg.Name, Payload: msg.Payload, Coalesce: msg.CC}:
		default:
			s.logger.Warn("event channel full, dropping user event", "name", msg.Name)
		}
	}
	return true
}

// recordEvent stores msg in the Lamport-time ring buffer, coalescing it
// with prior events at the same slot. Reports whether msg had already
// been seen. Caller must hold eventLock.
func (s *Serf) recordEvent(msg *messageUserEvent) bool {
	idx := int(msg.LTime) % s.config.EventBuffer
	if idx < 0 {
		idx = -idx
	}
	for len(s.eventBuffer) <= idx {
		s.eventBuffer = append(s.eventBuffer, nil)
	}

	slot := s.eventBuffer[idx]
	cur := userEvent{Name: msg.Name, Payload: msg.Payload}

	if slot == nil || slot.LTime != msg.LTime {
		s.eventBuffer[idx] = &userEvents{LTime: msg.LTime, Events: []userEvent{cur}}
		return false
	}

	for _, seen := range slot.Events {
		if seen.Equals(&cur) {
			return true
		}
	}
	slot.Events = append(slot.Events, cur)
	return false
}

package serf

import "reflect"

// latestMemberEvent tracks the most recent event type/payload seen for
// a single member name, so a burst of updates to the same node
// collapses into one.
type latestMemberEvent struct {
	Type   EventType
	Member *Member
}

func (n *latestMemberEvent) equal(o *latestMemberEvent) bool {
	if o == nil || n.Type != o.Type {
		return false
	}
	if n.Type != EventMemberUpdate {
		return true
	}
	return reflect.DeepEqual(n.Member, o.Member)
}

// memberEventCoalescer batches the per-node membership events that
// arrive within a coalesce window into one MemberEvent per type, keyed
// by the last state flushed for each name so unchanged updates are
// dropped.
type memberEventCoalescer struct {
	lastEvents map[string]*latestMemberEvent
	newEvents  map[string]*latestMemberEvent
}

func (c *memberEventCoalescer) Handle(e Event) bool {
	switch e.EventType() {
	case EventMemberJoin, EventMemberLeave, EventMemberFailed, EventMemberUpdate, EventMemberReap:
		return true
	default:
		return false
	}
}

func (c *memberEventCoalescer) Coalesce(raw Event) {
	e := raw.(MemberEvent)
	for _, m := range e.Members {
		m := m
		c.newEvents[m.Name] = &latestMemberEvent{Type: e.Type, Member: &m}
	}
}

func (c *memberEventCoalescer) Flush(outCh chan<- Event) {
	byType := make(map[EventType]*MemberEvent)
	for name, e := range c.newEvents {
		if e.equal(c.lastEvents[name]) {
			continue
		}
		c.lastEvents[name] = e

		event, ok := byType[e.Type]
		if !ok {
			event = &MemberEvent{Type: e.Type}
			byType[e.Type] = event
		}
		event.Members = append(event.Members, *e.Member)
	}

	for _, event := range byType {
		outCh <- *event
	}
}

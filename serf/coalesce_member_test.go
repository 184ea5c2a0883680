package serf

import (
	"reflect"
	"sort"
	"testing"
	"time"
)

func TestMemberEventCoalesce_Basic(t *testing.T) {
	outCh := make(chan Event, 64)
	shutdownCh := make(chan struct{})
	defer close(shutdownCh)

	c := &memberEventCoalescer{
		lastEvents: make(map[string]*latestMemberEvent),
		newEvents:  make(map[string]*latestMemberEvent),
	}

	inCh := coalescedEventCh(outCh, shutdownCh, 5*time.Millisecond, 5*time.Millisecond, c)

	send := []Event{
		MemberEvent{Type: EventMemberJoin, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "bar"}}},
	}
	for _, e := range send {
		inCh <- e
	}

	events := make(map[EventType]Event)
	timeout := time.After(20 * time.Millisecond)

MEMBEREVENTFORLOOP:
	for {
		select {
		case e := <-outCh:
			events[e.EventType()] = e
		case <-timeout:
			break MEMBEREVENTFORLOOP
		}
	}

	if len(events) != 1 {
		t.Fatalf("bad: %#v", events)
	}

	e, ok := events[EventMemberLeave]
	if !ok {
		t.Fatalf("bad: %#v", events)
	}
	me := e.(MemberEvent)
	if len(me.Members) != 2 {
		t.Fatalf("bad: %#v", me)
	}

	names := []string{me.Members[0].Name, me.Members[1].Name}
	sort.Strings(names)
	if !reflect.DeepEqual([]string{"bar", "foo"}, names) {
		t.Fatalf("bad: %#v", names)
	}
}

func TestMemberEventCoalesce_passThrough(t *testing.T) {
	cases := []struct {
		e      Event
		handle bool
	}{
		{UserEvent{}, false},
		{MemberEvent{Type: EventMemberJoin}, true},
		{MemberEvent{Type: EventMemberLeave}, true},
		{MemberEvent{Type: EventMemberFailed}, true},
		{MemberEvent{Type: EventMemberUpdate}, true},
		{MemberEvent{Type: EventMemberReap}, true},
	}

	c := &memberEventCoalescer{}
	for _, tc := range cases {
		if tc.handle != c.Handle(tc.e) {
			t.Fatalf("bad: %#v", tc.e)
		}
	}
}

func TestMemberEventCoalesce_dropsUnchanged(t *testing.T) {
	c := &memberEventCoalescer{
		lastEvents: make(map[string]*latestMemberEvent),
		newEvents:  make(map[string]*latestMemberEvent),
	}

	c.Coalesce(MemberEvent{Type: EventMemberJoin, Members: []Member{{Name: "foo"}}})
	out := make(chan Event, 64)
	c.Flush(out)
	if len(out) != 1 {
		t.Fatalf("expected the first flush to emit an event")
	}

	c.Coalesce(MemberEvent{Type: EventMemberJoin, Members: []Member{{Name: "foo"}}})
	c.Flush(out)
	if len(out) != 0 {
		t.Fatalf("expected a repeat of the same state to be dropped")
	}
}

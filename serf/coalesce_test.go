package serf

import (
	"reflect"
	"sort"
	"testing"
	"time"
)

func testMemberCoalescer(cPeriod, qPeriod time.Duration) (chan<- Event, <-chan Event, chan struct{}) {
	if cPeriod == 0 {
		cPeriod = 10 * time.Millisecond
	}
	if qPeriod == 0 {
		qPeriod = 5 * time.Millisecond
	}

	out := make(chan Event)
	shutdown := make(chan struct{})
	c := &memberEventCoalescer{
		lastEvents: make(map[string]*latestMemberEvent),
		newEvents:  make(map[string]*latestMemberEvent),
	}
	in := coalescedEventCh(out, shutdown, cPeriod, qPeriod, c)
	return in, out, shutdown
}

func TestCoalescer_basic(t *testing.T) {
	in, out, shutdown := testMemberCoalescer(0, 0)
	defer close(shutdown)

	send := []Event{
		MemberEvent{Type: EventMemberJoin, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "bar"}}},
	}
	for _, e := range send {
		in <- e
	}

	select {
	case e := <-out:
		me := e.(MemberEvent)
		if me.Type != EventMemberLeave {
			t.Fatalf("expected leave, got: %d", me.Type)
		}
		if len(me.Members) != 2 {
			t.Fatalf("should have two members: %d", len(me.Members))
		}

		names := []string{me.Members[0].Name, me.Members[1].Name}
		sort.Strings(names)
		if !reflect.DeepEqual([]string{"bar", "foo"}, names) {
			t.Fatalf("bad: %#v", names)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("timeout")
	}
}

func TestCoalescer_quiescent(t *testing.T) {
	// A long coalesce period with a short quiescent period tests that
	// flushing is driven by quiescence, not just the coalesce quantum.
	in, out, shutdown := testMemberCoalescer(10*time.Second, 10*time.Millisecond)
	defer close(shutdown)

	send := []Event{
		MemberEvent{Type: EventMemberJoin, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "foo"}}},
		MemberEvent{Type: EventMemberLeave, Members: []Member{{Name: "bar"}}},
	}
	for _, e := range send {
		in <- e
	}

	select {
	case e := <-out:
		me := e.(MemberEvent)
		if me.Type != EventMemberLeave {
			t.Fatalf("expected leave, got: %d", me.Type)
		}
		if len(me.Members) != 2 {
			t.Fatalf("should have two members: %d", len(me.Members))
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("timeout")
	}
}

func TestCoalescer_passThrough(t *testing.T) {
	in, out, shutdown := testMemberCoalescer(0, 0)
	defer close(shutdown)

	in <- UserEvent{Name: "deploy"}

	select {
	case e := <-out:
		if _, ok := e.(UserEvent); !ok {
			t.Fatalf("expected a pass-through UserEvent, got %#v", e)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("timeout")
	}
}

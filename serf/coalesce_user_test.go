package serf

import (
	"reflect"
	"testing"
)

func TestUserEventCoalesce_Basic(t *testing.T) {
	c := &userEventCoalescer{events: make(map[string]*userEventBatch)}

	send := []Event{
		UserEvent{LTime: 1, Name: "foo", Coalesce: true},
		UserEvent{LTime: 2, Name: "foo", Coalesce: true},
		UserEvent{LTime: 2, Name: "bar", Payload: []byte("test1"), Coalesce: true},
		UserEvent{LTime: 2, Name: "bar", Payload: []byte("test2"), Coalesce: true},
	}
	for _, e := range send {
		if !c.Handle(e) {
			t.Fatalf("expected event to be handled: %v", e)
		}
		c.Coalesce(e)
	}

	out := make(chan Event, 64)
	c.Flush(out)
	close(out)

	var gotFoo, gotBar1, gotBar2 bool
	for e := range out {
		ue := e.(UserEvent)
		switch ue.Name {
		case "foo":
			if ue.LTime != 2 {
				t.Fatalf("bad ltime for foo: %#v", ue)
			}
			gotFoo = true
		case "bar":
			if ue.LTime != 2 {
				t.Fatalf("bad ltime for bar: %#v", ue)
			}
			if reflect.DeepEqual(ue.Payload, []byte("test1")) {
				gotBar1 = true
			}
			if reflect.DeepEqual(ue.Payload, []byte("test2")) {
				gotBar2 = true
			}
		default:
			t.Fatalf("bad msg: %#v", ue)
		}
	}

	if !gotFoo || !gotBar1 || !gotBar2 {
		t.Fatalf("missing messages: foo=%v bar1=%v bar2=%v", gotFoo, gotBar1, gotBar2)
	}
}

func TestUserEventCoalesce_passThrough(t *testing.T) {
	c := &userEventCoalescer{events: make(map[string]*userEventBatch)}

	if c.Handle(MemberEvent{}) {
		t.Fatalf("member events should not be handled by the user coalescer")
	}
	if !c.Handle(UserEvent{Name: "foo"}) {
		t.Fatalf("user events should be handled regardless of Coalesce")
	}
}

func TestUserEventCoalesce_olderLTimeDropped(t *testing.T) {
	c := &userEventCoalescer{events: make(map[string]*userEventBatch)}

	c.Coalesce(UserEvent{LTime: 5, Name: "foo"})
	c.Coalesce(UserEvent{LTime: 3, Name: "foo"})

	out := make(chan Event, 64)
	c.Flush(out)
	close(out)

	if len(out) != 1 {
		t.Fatalf("expected only the highest-LTime event to survive, got %d", len(out))
	}
	if ue := (<-out).(UserEvent); ue.LTime != 5 {
		t.Fatalf("expected LTime 5, got %d", ue.LTime)
	}
}

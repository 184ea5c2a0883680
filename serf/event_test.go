package serf

import (
	"reflect"
	"testing"
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

// testEvents asserts that the given node produced exactly the expected
// sequence of MemberEvent types on ch.
func testEvents(t *testing.T, ch <-chan Event, node string, expected []EventType) {
	actual := make([]EventType, 0, len(expected))

TESTEVENTLOOP:
	for {
		select {
		case r := <-ch:
			e, ok := r.(MemberEvent)
			if !ok {
				continue
			}

			found := false
			for _, m := range e.Members {
				if m.Name == node {
					found = true
					break
				}
			}

			if found {
				actual = append(actual, e.Type)
			}
		case <-time.After(10 * time.Millisecond):
			break TESTEVENTLOOP
		}
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected events: %v. Got: %v", expected, actual)
	}
}

// testUserEvents asserts the given sequence of user events arrived on ch.
func testUserEvents(t *testing.T, ch <-chan Event, expectedName []string, expectedPayload [][]byte) {
	actualName := make([]string, 0, len(expectedName))
	actualPayload := make([][]byte, 0, len(expectedPayload))

TESTEVENTLOOP:
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				break TESTEVENTLOOP
			}
			u, ok := r.(UserEvent)
			if !ok {
				continue
			}

			actualName = append(actualName, u.Name)
			actualPayload = append(actualPayload, u.Payload)
		case <-time.After(10 * time.Millisecond):
			break TESTEVENTLOOP
		}
	}

	if !reflect.DeepEqual(actualName, expectedName) {
		t.Fatalf("expected names: %v. Got: %v", expectedName, actualName)
	}
	if !reflect.DeepEqual(actualPayload, expectedPayload) {
		t.Fatalf("expected payloads: %v. Got: %v", expectedPayload, actualPayload)
	}
}

func TestMemberEvent_EventType(t *testing.T) {
	cases := []struct {
		t EventType
	}{
		{EventMemberJoin}, {EventMemberLeave}, {EventMemberFailed},
		{EventMemberUpdate}, {EventMemberReap},
	}
	for _, c := range cases {
		me := MemberEvent{Type: c.t}
		if me.EventType() != c.t {
			t.Fatalf("bad event type for %v", c.t)
		}
	}
}

func TestUserEvent_EventType(t *testing.T) {
	ue := UserEvent{Name: "test", Payload: []byte("foobar")}
	if ue.EventType() != EventUser {
		t.Fatalf("bad event type")
	}
}

func TestQuery_EventType(t *testing.T) {
	q := Query{LTime: 42, Name: "update", Payload: []byte("abcd1234")}
	if q.EventType() != EventQuery {
		t.Fatalf("bad event type")
	}
}

func TestQuery_Deadline(t *testing.T) {
	deadline := time.Now().Add(time.Minute)
	q := Query{deadline: deadline}
	if !q.Deadline().Equal(deadline) {
		t.Fatalf("bad deadline: %v", q.Deadline())
	}
}

func TestEventType_String(t *testing.T) {
	events := []EventType{EventMemberJoin, EventMemberLeave, EventMemberFailed,
		EventMemberUpdate, EventMemberReap, EventUser, EventQuery}
	expect := []string{"member-join", "member-leave", "member-failed",
		"member-update", "member-reap", "user", "query"}

	for idx, event := range events {
		if event.String() != expect[idx] {
			t.Fatalf("expect %v got %v", expect[idx], event.String())
		}
	}

	if got := EventType(100).String(); got != "unknown" {
		t.Fatalf("expected \"unknown\" for an out-of-range type, got %q", got)
	}
}

func TestDefaultQueryParams(t *testing.T) {
	s := newTestSerf(&Config{
		QueryTimeoutMult: 16,
		MemberlistConfig: gossip.DefaultLANConfig(),
	})

	params := s.DefaultQueryParams()
	if params.Timeout <= 0 {
		t.Fatalf("expected a positive default timeout, got %v", params.Timeout)
	}
}

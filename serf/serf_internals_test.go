package serf

import (
	"fmt"
	"testing"
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

func TestSerf_joinLeave_ltime(t *testing.T) {
	s1Config := testConfig(t)
	s2Config := testConfig(t)

	s1, err := Create(s1Config)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s1.Shutdown()

	s2, err := Create(s2Config)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s2.Shutdown()

	addr := fmt.Sprintf("%s:%d", s2Config.MemberlistConfig.BindAddr, s2Config.MemberlistConfig.BindPort)
	if _, err := s1.Join([]string{addr}, false); err != nil {
		t.Fatalf("err: %v", err)
	}

	waitUntilNumMembers(t, 2, s1, s2)

	deadline := time.Now().Add(2 * time.Second)
	for {
		ms := s2.members[s1Config.NodeName]
		if ms != nil && ms.statusLTime == 1 && s2.clock.Time() > ms.statusLTime {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("join time never settled: %#v", ms)
		}
		time.Sleep(20 * time.Millisecond)
	}

	oldClock := s2.clock.Time()

	if err := s1.Leave(); err != nil {
		t.Fatalf("err: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for s2.clock.Time() <= oldClock {
		if time.Now().After(deadline) {
			t.Fatalf("leave should have incremented s2's clock (%d / %d)", s2.clock.Time(), oldClock)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSerf_join_pendingIntent(t *testing.T) {
	s := newTestSerf(&Config{EventBuffer: 512, QueryBuffer: 512})
	s.recentIntents["test"] = nodeIntent{LTime: 5, Type: messageJoinType}

	n := &gossip.Node{Name: "test", Addr: nil, Meta: []byte("")}
	s.handleNodeJoin(n)

	mem := s.members["test"]
	if mem.statusLTime != 5 {
		t.Fatalf("bad join time")
	}
	if mem.Status != StatusAlive {
		t.Fatalf("bad status")
	}
}

func TestSerf_join_pendingIntents(t *testing.T) {
	s := newTestSerf(&Config{EventBuffer: 512, QueryBuffer: 512})
	s.recentIntents["test"] = nodeIntent{LTime: 5, Type: messageJoinType}
	s.recentIntents["test"] = nodeIntent{LTime: 6, Type: messageLeaveType}

	n := &gossip.Node{Name: "test", Addr: nil, Meta: []byte("")}
	s.handleNodeJoin(n)

	mem := s.members["test"]
	if mem.statusLTime != 6 {
		t.Fatalf("bad join time")
	}
	if mem.Status != StatusLeaving {
		t.Fatalf("bad status")
	}
}

func TestSerf_leaveIntent_bufferEarly(t *testing.T) {
	s := newTestSerf(&Config{})

	j := messageLeave{LTime: 10, Node: "test"}
	if !s.handleNodeLeaveIntent(&j) {
		t.Fatalf("should rebroadcast")
	}
	if s.handleNodeLeaveIntent(&j) {
		t.Fatalf("should not rebroadcast")
	}

	intent, ok := s.recentIntents["test"]
	if !ok || intent.LTime != 10 || intent.Type != messageLeaveType {
		t.Fatalf("bad buffer")
	}
}

func TestSerf_leaveIntent_oldMessage(t *testing.T) {
	s := newTestSerf(&Config{})
	s.members["test"] = &memberState{
		Member:      Member{Status: StatusAlive},
		statusLTime: 12,
	}

	j := messageLeave{LTime: 10, Node: "test"}
	if s.handleNodeLeaveIntent(&j) {
		t.Fatalf("should not rebroadcast")
	}

	if _, ok := s.recentIntents["test"]; ok {
		t.Fatalf("should not have buffered intent")
	}
}

func TestSerf_leaveIntent_newer(t *testing.T) {
	s := newTestSerf(&Config{})
	s.members["test"] = &memberState{
		Member:      Member{Status: StatusAlive},
		statusLTime: 12,
	}

	j := messageLeave{LTime: 14, Node: "test"}
	if !s.handleNodeLeaveIntent(&j) {
		t.Fatalf("should rebroadcast")
	}

	if _, ok := s.recentIntents["test"]; ok {
		t.Fatalf("should not have buffered intent")
	}
	if s.members["test"].Status != StatusLeaving {
		t.Fatalf("should update status")
	}
	if s.members["test"].statusLTime != 14 {
		t.Fatalf("should update join time")
	}
}

func TestSerf_joinIntent_bufferEarly(t *testing.T) {
	s := newTestSerf(&Config{})

	j := messageJoin{LTime: 10, Node: "test"}
	if !s.handleNodeJoinIntent(&j) {
		t.Fatalf("should rebroadcast")
	}
	if s.handleNodeJoinIntent(&j) {
		t.Fatalf("should not rebroadcast")
	}

	intent, ok := s.recentIntents["test"]
	if !ok || intent.LTime != 10 || intent.Type != messageJoinType {
		t.Fatalf("bad buffer")
	}
}

func TestSerf_joinIntent_oldMessage(t *testing.T) {
	s := newTestSerf(&Config{})
	s.members["test"] = &memberState{statusLTime: 12}

	j := messageJoin{LTime: 10, Node: "test"}
	if s.handleNodeJoinIntent(&j) {
		t.Fatalf("should not rebroadcast")
	}

	if _, ok := s.recentIntents["test"]; ok {
		t.Fatalf("should not have buffered intent")
	}
}

func TestSerf_joinIntent_newer(t *testing.T) {
	s := newTestSerf(&Config{})
	s.members["test"] = &memberState{statusLTime: 12}

	j := messageJoin{LTime: 14, Node: "test"}
	if !s.handleNodeJoinIntent(&j) {
		t.Fatalf("should rebroadcast")
	}

	if _, ok := s.recentIntents["test"]; ok {
		t.Fatalf("should not have buffered intent")
	}
	if s.members["test"].statusLTime != 14 {
		t.Fatalf("should update join time")
	}
}

func TestSerf_joinIntent_resetLeaving(t *testing.T) {
	s := newTestSerf(&Config{})
	s.members["test"] = &memberState{
		Member:      Member{Status: StatusLeaving},
		statusLTime: 12,
	}

	j := messageJoin{LTime: 14, Node: "test"}
	if !s.handleNodeJoinIntent(&j) {
		t.Fatalf("should rebroadcast")
	}

	if _, ok := s.recentIntents["test"]; ok {
		t.Fatalf("should not have buffered intent")
	}
	if s.members["test"].statusLTime != 14 {
		t.Fatalf("should update join time")
	}
	if s.members["test"].Status != StatusAlive {
		t.Fatalf("should update status")
	}
}

func TestSerf_userEvent_oldMessage(t *testing.T) {
	s := newTestSerf(&Config{EventBuffer: 512})
	s.eventMinTime = 1000

	msg := messageUserEvent{LTime: 1, Name: "old", Payload: nil}
	if s.handleUserEvent(&msg) {
		t.Fatalf("should not rebroadcast")
	}
}

func TestSerf_userEvent_sameClock(t *testing.T) {
	eventCh := make(chan Event, 4)
	s := newTestSerf(&Config{EventBuffer: 512, EventCh: eventCh})

	msg := messageUserEvent{LTime: 1, Name: "first", Payload: []byte("test")}
	if !s.handleUserEvent(&msg) {
		t.Fatalf("should rebroadcast")
	}
	msg = messageUserEvent{LTime: 1, Name: "first", Payload: []byte("newpayload")}
	if !s.handleUserEvent(&msg) {
		t.Fatalf("should rebroadcast")
	}
	msg = messageUserEvent{LTime: 1, Name: "second", Payload: []byte("other")}
	if !s.handleUserEvent(&msg) {
		t.Fatalf("should rebroadcast")
	}

	testUserEvents(t, eventCh,
		[]string{"first", "first", "second"},
		[][]byte{[]byte("test"), []byte("newpayload"), []byte("other")})
}

func TestSerf_query_oldMessage(t *testing.T) {
	s := newTestSerf(&Config{QueryBuffer: 512})
	s.queryMinTime = 1000

	msg := messageQuery{LTime: 1, Name: "old", Payload: nil}
	if s.handleQuery(&msg) {
		t.Fatalf("should not rebroadcast")
	}
}

// testQueryEvents asserts the given sequence of query names/payloads
// arrived on ch.
func testQueryEvents(t *testing.T, ch <-chan Event, expectedName []string, expectedPayload [][]byte) {
	actualName := make([]string, 0, len(expectedName))
	actualPayload := make([][]byte, 0, len(expectedPayload))

TESTEVENTLOOP:
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				break TESTEVENTLOOP
			}
			q, ok := r.(*Query)
			if !ok {
				continue
			}
			actualName = append(actualName, q.Name)
			actualPayload = append(actualPayload, q.Payload)
		case <-time.After(10 * time.Millisecond):
			break TESTEVENTLOOP
		}
	}

	if len(actualName) != len(expectedName) {
		t.Fatalf("expected names: %v. Got: %v", expectedName, actualName)
	}
	for i := range expectedName {
		if actualName[i] != expectedName[i] {
			t.Fatalf("expected names: %v. Got: %v", expectedName, actualName)
		}
		if string(actualPayload[i]) != string(expectedPayload[i]) {
			t.Fatalf("expected payloads: %v. Got: %v", expectedPayload, actualPayload)
		}
	}
}

func TestSerf_query_sameClock(t *testing.T) {
	eventCh := make(chan Event, 4)
	s := newTestSerf(&Config{QueryBuffer: 512, EventCh: eventCh})

	msg := messageQuery{LTime: 1, ID: 1, Name: "foo", Payload: []byte("test")}
	if !s.handleQuery(&msg) {
		t.Fatalf("should rebroadcast")
	}
	if s.handleQuery(&msg) {
		t.Fatalf("should not rebroadcast")
	}
	msg = messageQuery{LTime: 1, ID: 2, Name: "bar", Payload: []byte("newpayload")}
	if !s.handleQuery(&msg) {
		t.Fatalf("should rebroadcast")
	}
	if s.handleQuery(&msg) {
		t.Fatalf("should not rebroadcast")
	}
	msg = messageQuery{LTime: 1, ID: 3, Name: "baz", Payload: []byte("other")}
	if !s.handleQuery(&msg) {
		t.Fatalf("should rebroadcast")
	}
	if s.handleQuery(&msg) {
		t.Fatalf("should not rebroadcast")
	}

	testQueryEvents(t, eventCh,
		[]string{"foo", "bar", "baz"},
		[][]byte{[]byte("test"), []byte("newpayload"), []byte("other")})
}

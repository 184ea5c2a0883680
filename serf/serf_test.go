package serf

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	port := freePort(t)

	mc := gossip.DefaultLANConfig()
	mc.BindAddr = "127.0.0.1"
	mc.BindPort = port
	mc.GossipInterval = 5 * time.Millisecond
	mc.ProbeInterval = 20 * time.Millisecond
	mc.ProbeTimeout = 50 * time.Millisecond
	mc.SuspicionMult = 2

	c := DefaultConfig()
	c.NodeName = fmt.Sprintf("node-%d", port)
	c.MemberlistConfig = mc
	c.ReapInterval = 50 * time.Millisecond
	c.ReconnectInterval = 50 * time.Millisecond
	c.TombstoneTimeout = 100 * time.Millisecond
	c.ReconnectTimeout = 100 * time.Millisecond
	return c
}

func testMember(t *testing.T, members []Member, name string, status MemberStatus) {
	t.Helper()
	for _, m := range members {
		if m.Name != name {
			continue
		}
		if m.Status != status {
			t.Fatalf("bad status for %s: %v, want %v", name, m.Status, status)
		}
		return
	}
	t.Fatalf("member not found: %s", name)
}

func joinTwo(t *testing.T) (*Serf, *Serf) {
	t.Helper()
	c1 := testConfig(t)
	s1, err := Create(c1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	c2 := testConfig(t)
	s2, err := Create(c2)
	if err != nil {
		s1.Shutdown()
		t.Fatalf("err: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", c1.MemberlistConfig.BindAddr, c1.MemberlistConfig.BindPort)
	if _, err := s2.Join([]string{addr}, false); err != nil {
		s1.Shutdown()
		s2.Shutdown()
		t.Fatalf("err: %v", err)
	}
	waitUntilNumMembers(t, 2, s1, s2)
	return s1, s2
}

func TestSerf_eventsJoin(t *testing.T) {
	eventCh := make(chan Event, 64)
	c1 := testConfig(t)
	c1.EventCh = eventCh
	s1, err := Create(c1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s1.Shutdown()

	c2 := testConfig(t)
	s2, err := Create(c2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s2.Shutdown()

	addr := fmt.Sprintf("%s:%d", c1.MemberlistConfig.BindAddr, c1.MemberlistConfig.BindPort)
	if _, err := s2.Join([]string{addr}, false); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitUntilNumMembers(t, 2, s1, s2)

	testEvents(t, eventCh, c2.NodeName, []EventType{EventMemberJoin})
}

func TestSerf_eventsLeave(t *testing.T) {
	eventCh := make(chan Event, 64)
	c1 := testConfig(t)
	s1, err := Create(c1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s1.Shutdown()

	c2 := testConfig(t)
	s2, err := Create(c2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s2.Shutdown()

	addr := fmt.Sprintf("%s:%d", c1.MemberlistConfig.BindAddr, c1.MemberlistConfig.BindPort)
	if _, err := s2.Join([]string{addr}, false); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitUntilNumMembers(t, 2, s1, s2)

	// only start listening for events once the join has settled, so we
	// see exactly the leave transition
	c1.EventCh = eventCh

	if err := s2.Leave(); err != nil {
		t.Fatalf("err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		members := s1.Members()
		left := false
		for _, m := range members {
			if m.Name == c2.NodeName && (m.Status == StatusLeft || m.Status == StatusLeaving) {
				left = true
			}
		}
		if left {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("s1 never saw s2 leave")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSerf_eventsUser(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	eventCh := make(chan Event, 64)
	s1.config.EventCh = eventCh

	if err := s2.UserEvent("deploy", []byte("1.0"), false); err != nil {
		t.Fatalf("err: %v", err)
	}

	testUserEvents(t, eventCh, []string{"deploy"}, [][]byte{[]byte("1.0")})
}

func TestSerf_eventsUser_sizeLimit(t *testing.T) {
	c := testConfig(t)
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	large := make([]byte, c.UserEventSizeLimit+1)
	if err := s.UserEvent("deploy", large, false); err == nil {
		t.Fatalf("expected an error for a payload exceeding UserEventSizeLimit")
	}
}

func TestSerf_joinLeave(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	if s1.NumMembers() != 2 || s2.NumMembers() != 2 {
		t.Fatalf("expected 2 members on each side")
	}

	if err := s1.Leave(); err != nil {
		t.Fatalf("err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s2.NumMembers() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected s2 to still see the tombstoned member")
		}
		time.Sleep(20 * time.Millisecond)
	}
	testMember(t, s2.Members(), s1.config.NodeName, StatusLeft)
}

func TestSerf_SetTags(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	if err := s1.SetTags(map[string]string{"role": "web"}); err != nil {
		t.Fatalf("err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ok := false
		for _, m := range s2.Members() {
			if m.Name == s1.config.NodeName && m.Tags["role"] == "web" {
				ok = true
			}
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("s2 never saw s1's updated tags")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if s1.Tags()["role"] != "web" {
		t.Fatalf("local tags not updated")
	}
}

func TestSerf_SetTags_File(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(t)
	c.TagsFile = filepath.Join(dir, "tags.json")
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	if err := s.SetTags(map[string]string{"role": "db"}); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := os.Stat(c.TagsFile); err != nil {
		t.Fatalf("expected tags file to be written: %v", err)
	}
}

func TestSerfRemoveFailedNode(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	s1.memberLock.Lock()
	s1.members[s2.config.NodeName].Status = StatusFailed
	s1.memberLock.Unlock()

	if err := s1.RemoveFailedNode(s2.config.NodeName); err != nil {
		t.Fatalf("err: %v", err)
	}

	testMember(t, s1.Members(), s2.config.NodeName, StatusLeft)
}

func TestSerf_Query(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	eventCh := make(chan Event, 64)
	s2.config.EventCh = eventCh

	resp, err := s1.Query("load", []byte("?"), nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case e := <-eventCh:
		q, ok := e.(*Query)
		if !ok || q.Name != "load" {
			t.Fatalf("bad event: %#v", e)
		}
		if err := q.Respond([]byte("0.5")); err != nil {
			t.Fatalf("err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("s2 never saw the query")
	}

	select {
	case nr := <-resp.ResponseCh():
		if nr.From != s2.config.NodeName || string(nr.Payload) != "0.5" {
			t.Fatalf("bad response: %#v", nr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("never got a query response")
	}
}

func TestSerf_Query_Filter(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	eventCh := make(chan Event, 64)
	s2.config.EventCh = eventCh

	params := s1.DefaultQueryParams()
	params.FilterNodes = []string{s1.config.NodeName}

	if _, err := s1.Query("load", nil, params); err != nil {
		t.Fatalf("err: %v", err)
	}

	select {
	case <-eventCh:
		t.Fatalf("s2 should have been filtered out of the query")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSerf_Query_sizeLimit(t *testing.T) {
	c := testConfig(t)
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	large := make([]byte, c.QuerySizeLimit+1)
	if _, err := s.Query("load", large, nil); err == nil {
		t.Fatalf("expected an error for a payload exceeding QuerySizeLimit")
	}
}

func TestSerf_LocalMember(t *testing.T) {
	c := testConfig(t)
	c.Tags = map[string]string{"role": "test"}
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	m := s.LocalMember()
	if m.Name != c.NodeName {
		t.Fatalf("bad name: %s", m.Name)
	}
	if m.Tags["role"] != "test" {
		t.Fatalf("bad tags: %#v", m.Tags)
	}
	if m.Status != StatusAlive {
		t.Fatalf("bad status: %v", m.Status)
	}
}

func TestSerf_NumMembers(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	if s1.NumMembers() != 2 {
		t.Fatalf("bad: %d", s1.NumMembers())
	}
}

func TestSerf_SnapshotRecovery(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "snap")

	c1 := testConfig(t)
	s1, err := Create(c1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s1.Shutdown()

	c2 := testConfig(t)
	c2.SnapshotPath = snapPath
	s2, err := Create(c2)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", c1.MemberlistConfig.BindAddr, c1.MemberlistConfig.BindPort)
	if _, err := s2.Join([]string{addr}, false); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitUntilNumMembers(t, 2, s1, s2)

	if err := s2.Shutdown(); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := os.Stat(snapPath); err != nil {
		t.Fatalf("expected a snapshot file to exist: %v", err)
	}

	// restart s2 from the same snapshot path on a new port; it should
	// rejoin s1 automatically using the recovered address.
	port := freePort(t)
	c3 := testConfig(t)
	c3.NodeName = c2.NodeName
	c3.SnapshotPath = snapPath
	c3.MemberlistConfig.BindPort = port
	s3, err := Create(c3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s3.Shutdown()

	waitUntilNumMembers(t, 2, s1, s3)
}

func TestSerf_Join_BadAddr(t *testing.T) {
	c := testConfig(t)
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	if _, err := s.Join([]string{"127.0.0.1:1"}, false); err == nil {
		t.Fatalf("expected an error joining an unreachable address")
	}
}

func TestSerf_Join_IgnoreOld(t *testing.T) {
	s1, s2 := joinTwo(t)
	defer s1.Shutdown()
	defer s2.Shutdown()

	if err := s2.UserEvent("first", []byte("old"), false); err != nil {
		t.Fatalf("err: %v", err)
	}

	c3 := testConfig(t)
	eventCh := make(chan Event, 64)
	c3.EventCh = eventCh
	s3, err := Create(c3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s3.Shutdown()

	addr := fmt.Sprintf("%s:%d", s1.config.MemberlistConfig.BindAddr, s1.config.MemberlistConfig.BindPort)
	if _, err := s3.Join([]string{addr}, true); err != nil {
		t.Fatalf("err: %v", err)
	}
	waitUntilNumMembers(t, 3, s1, s2, s3)

	select {
	case e := <-eventCh:
		if ue, ok := e.(UserEvent); ok && ue.Name == "first" {
			t.Fatalf("should not have replayed old user events with ignoreOld=true")
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSerf_State(t *testing.T) {
	c := testConfig(t)
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if s.State() != SerfAlive {
		t.Fatalf("bad state: %v", s.State())
	}

	if err := s.Leave(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if s.State() != SerfLeft {
		t.Fatalf("bad state after leave: %v", s.State())
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if s.State() != SerfShutdown {
		t.Fatalf("bad state after shutdown: %v", s.State())
	}
}

func TestSerf_Members_Copy(t *testing.T) {
	c := testConfig(t)
	s, err := Create(c)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Shutdown()

	members := s.Members()
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	members[0].Tags = map[string]string{"mutated": "true"}

	if s.LocalMember().Tags["mutated"] == "true" {
		t.Fatalf("Members() should return a copy, not live references")
	}
}

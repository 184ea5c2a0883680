package serf

import "testing"

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.ProtocolVersion != 4 {
		t.Fatalf("bad protocol version: %#v", c)
	}
	if c.NodeName == "" {
		t.Fatalf("expected a node name to be populated from the hostname")
	}
	if c.MemberlistConfig == nil {
		t.Fatalf("expected a default gossip config")
	}
	if c.QueryTimeoutMult != 16 {
		t.Fatalf("bad query timeout mult: %#v", c)
	}
}

package serf

import (
	"net"
	"strings"
	"testing"

	"github.com/clustermesh/serf/internal/gossip"
)

func TestValidateNodeInfo(t *testing.T) {
	cases := map[string]struct {
		name string
		addr net.IP
		meta []byte
		err  string
	}{
		"invalid-name-chars": {
			name: "space not allowed",
			addr: net.IP{1, 2, 3, 4},
			err:  "invalid characters",
		},
		"invalid-name-len": {
			name: strings.Repeat("abcd", 33),
			addr: net.IP{1, 2, 3, 4},
			err:  "valid length is between",
		},
		"no-address": {
			name: "test",
			err:  "no valid address",
		},
		"meta-too-long": {
			name: "test",
			addr: net.IP{1, 2, 3, 4},
			meta: []byte(strings.Repeat("a", gossip.MetaMaxSize+1)),
			err:  "exceeds limit",
		},
		"ipv4-okay": {
			name: "test",
			addr: net.IPv4(1, 1, 1, 1),
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			node := &gossip.Node{Name: tc.name, Addr: tc.addr, Meta: tc.meta}
			err := validateNodeInfo(node)

			if tc.err == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.err)
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("expected error containing %q, got %q", tc.err, err.Error())
			}
		})
	}
}

func TestNodeToMember(t *testing.T) {
	tags, err := encodeTags(map[string]string{"role": "web"})
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	node := &gossip.Node{
		Name: "node1",
		Addr: net.IPv4(127, 0, 0, 1),
		Port: 7946,
		Meta: tags,
		PMin: 1, PMax: 5, PCur: 4,
	}

	m, err := nodeToMember(node)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if m.Name != "node1" || m.Tags["role"] != "web" || m.ProtocolCur != 4 {
		t.Fatalf("bad member: %#v", m)
	}
}

func TestSerf_NotifyMerge(t *testing.T) {
	s := newTestSerf(&Config{})
	nodes := []*gossip.Node{
		{Name: "node1", Addr: net.IPv4(127, 0, 0, 1), Port: 7946},
	}
	if err := s.NotifyMerge(nodes); err != nil {
		t.Fatalf("err: %s", err)
	}
}

func TestSerf_NotifyMerge_InvalidNode(t *testing.T) {
	s := newTestSerf(&Config{})
	nodes := []*gossip.Node{{Name: "", Addr: net.IPv4(127, 0, 0, 1)}}
	if err := s.NotifyMerge(nodes); err == nil {
		t.Fatalf("expected error for empty node name")
	}
}

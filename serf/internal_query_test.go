package serf

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

func TestInternalQueryName(t *testing.T) {
	name := internalQueryName(conflictQuery)
	if name != "_serf_conflict" {
		t.Fatalf("bad: %v", name)
	}
}

func TestIsInternalQuery(t *testing.T) {
	cases := map[string]bool{
		"_serf_ping":     true,
		"_serf_conflict": true,
		"deploy":         false,
		"_serf":          false,
	}
	for name, want := range cases {
		if got := isInternalQuery(name); got != want {
			t.Fatalf("isInternalQuery(%q) = %v, want %v", name, got, want)
		}
	}
}

func expiredQuery(s *Serf, name string, payload []byte) *Query {
	return &Query{
		Name:     name,
		Payload:  payload,
		serf:     s,
		deadline: time.Now().Add(-time.Second),
	}
}

func TestHandleConflictQuery_SameName(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSerf(&Config{NodeName: "foo", MemberlistConfig: &gossip.Config{}})
	s.logger = slog.New(slog.NewTextHandler(&buf, nil))

	s.handleConflictQuery(expiredQuery(s, "_serf_conflict", []byte("foo")))

	if buf.Len() != 0 {
		t.Fatalf("expected no logging for a self-conflict query, got: %s", buf.String())
	}
}

func TestHandleConflictQuery_KnownMember(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSerf(&Config{NodeName: "foo", MemberlistConfig: &gossip.Config{}})
	s.logger = slog.New(slog.NewTextHandler(&buf, nil))
	s.members["bar"] = &memberState{Member: Member{Name: "bar", Status: StatusAlive}}

	// deadline already passed, so the encoded response never reaches the
	// gossip transport; this only exercises the lookup/encode path.
	s.handleConflictQuery(expiredQuery(s, "_serf_conflict", []byte("bar")))

	if bytes.Contains(buf.Bytes(), []byte("failed to encode")) {
		t.Fatalf("unexpected encode failure: %s", buf.String())
	}
}

func TestHandleKeyQueries_EncryptionDisabled(t *testing.T) {
	s := newTestSerf(&Config{NodeName: "foo", MemberlistConfig: &gossip.Config{}})
	s.logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if s.EncryptionEnabled() {
		t.Fatalf("expected encryption disabled with a nil keyring")
	}

	// None of these should panic when the keyring is unset; they should
	// short-circuit to a "no keyring" response before touching it.
	s.handleInstallKeyQuery(expiredQuery(s, "_serf_install-key", nil))
	s.handleUseKeyQuery(expiredQuery(s, "_serf_use-key", nil))
	s.handleRemoveKeyQuery(expiredQuery(s, "_serf_remove-key", nil))
	s.handleListKeysQuery(expiredQuery(s, "_serf_list-keys", nil))
}

// Package gossip implements the SWIM-style membership and failure-detector
// engine: node table, direct/indirect probing, suspicion with Lifeguard
// awareness, periodic gossip, and TCP push/pull anti-entropy, folded
// directly into the coordinator instead of pulled in as an external
// dependency.
package gossip

import (
	"net"
	"strconv"
	"time"
)

// NodeStateType is the gossip-layer view of a peer's liveness.
type NodeStateType int

const (
	StateAlive NodeStateType = iota
	StateSuspect
	StateDead
	StateLeft
)

func (s NodeStateType) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// MetaMaxSize bounds the opaque per-node metadata blob (encoded tags).
const MetaMaxSize = 512

// Node is the transport-level identity of a peer, exchanged over the wire.
type Node struct {
	Name string
	Addr net.IP
	Port uint16
	Meta []byte

	PMin, PMax, PCur uint8 // protocol version triple
	DMin, DMax, DCur uint8 // delegate (Serf) version triple
}

// Address renders Node as host:port.
func (n *Node) Address() string {
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// NodeState is the gossip engine's per-node bookkeeping: incarnation number
// (used to refute stale rumors about self), current SWIM state, and the
// timestamp of the last state change (used to size/bound suspicion timers).
type NodeState struct {
	Node
	Incarnation uint32
	State       NodeStateType
	StateChange time.Time
}

// Address is a convenience accessor over the embedded Node.
func (n *NodeState) Address() string {
	return n.Node.Address()
}

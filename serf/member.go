package serf

import (
	"net"
	"time"
)

// MemberStatus is a node's view of another member's lifecycle state.
type MemberStatus int

const (
	StatusNone MemberStatus = iota
	StatusAlive
	StatusLeaving
	StatusLeft
	StatusFailed
)

func (s MemberStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusAlive:
		return "alive"
	case StatusLeaving:
		return "leaving"
	case StatusLeft:
		return "left"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Member is a single member of the cluster, as seen by the local node.
// Grounded on Serf's serf.go Member, extended with Tags/Port and
// the protocol/delegate version triples the modern ping_delegate.go and
// merge_delegate.go already assume.
type Member struct {
	Name   string
	Addr   net.IP
	Port   uint16
	Tags   map[string]string
	Status MemberStatus

	ProtocolMin uint8
	ProtocolMax uint8
	ProtocolCur uint8
	DelegateMin uint8
	DelegateMax uint8
	DelegateCur uint8
}

// memberState is the coordinator's bookkeeping for one Member: its public
// view plus the Lamport time of its last status change and, for Leaving
// members, when the leave was first observed (used to size the
// Leaving->Left timeout).
type memberState struct {
	Member
	statusLTime LamportTime
	leaveTime   time.Time
}

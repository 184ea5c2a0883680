package gossip

import "time"

// Delegate is implemented by the Serf layer to hook node metadata,
// user-message dispatch, broadcast draining, and full-state push/pull
// exchange. Mirrors the role of memberlist.Delegate in Serf.
type Delegate interface {
	// NodeMeta returns the opaque metadata (encoded tags) to advertise,
	// bounded by limit bytes.
	NodeMeta(limit int) []byte

	// NotifyMsg is invoked for each piggybacked user message received
	// (Serf join/leave intents, user events, queries, ...).
	NotifyMsg(buf []byte)

	// GetBroadcasts is invoked to drain the Serf-layer broadcast queue
	// (join/leave intents, user events, queries) when piggybacking on a
	// probe ack or gossip round.
	GetBroadcasts(overhead, limit int) [][]byte

	// LocalState/MergeRemoteState carry the Serf-layer user-state blob
	// across a push/pull exchange (recent events, tags, etc).
	LocalState(join bool) []byte
	MergeRemoteState(buf []byte, join bool)
}

// EventDelegate is notified of authoritative join/leave transitions as
// observed directly by the gossip engine.
type EventDelegate interface {
	NotifyJoin(n *Node)
	NotifyLeave(n *Node)
	NotifyUpdate(n *Node)
}

// MergeDelegate vets a push/pull peer's reported node set before it is
// merged into the local table.
type MergeDelegate interface {
	NotifyMerge(nodes []*Node) error
	NotifyAlive(peer *Node) error
}

// ConflictDelegate is notified when two incompatible Node records are
// observed for the same name, to drive a conflict-resolution query.
type ConflictDelegate interface {
	NotifyConflict(existing, other *Node)
}

// PingDelegate taps the direct-probe RTT measurement, used by the Serf
// layer to maintain network coordinates.
type PingDelegate interface {
	AckPayload() []byte
	NotifyPingComplete(other *Node, rtt time.Duration, payload []byte)
}

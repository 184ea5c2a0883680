package gossip

// ping is a direct liveness probe.
type ping struct {
	SeqNo uint32
	Node  string
}

// ackResp acknowledges a ping or indirectPingReq, optionally carrying a
// ping-delegate payload (e.g. a network coordinate).
type ackResp struct {
	SeqNo   uint32
	Payload []byte
}

// nackResp is sent by a relay that forwarded an indirect ping but did not
// itself receive an ack in time, so the origin can distinguish "peer is
// dead" from "relay could not reach peer".
type nackResp struct {
	SeqNo uint32
}

// indirectPingReq asks a peer to relay a ping to Target on our behalf.
type indirectPingReq struct {
	SeqNo  uint32
	Target string
	Node   string
}

// alive announces (or re-announces, at a higher incarnation) a node.
type alive struct {
	Incarnation uint32
	Node        string
	Addr        []byte
	Port        uint16
	Meta        []byte
	Vsn         [6]uint8
}

// suspect accuses a node of having failed to respond to probing.
type suspect struct {
	Incarnation uint32
	Node        string
	From        string
}

// dead declares a node dead, either via suspicion timeout or a direct
// observation (e.g. the transport peer is gone).
type dead struct {
	Incarnation uint32
	Node        string
	From        string
}

// pushNodeState is one entry of a push/pull full-state exchange.
type pushNodeState struct {
	Name        string
	Addr        []byte
	Port        uint16
	Meta        []byte
	Incarnation uint32
	State       NodeStateType
	Vsn         [6]uint8
}

// pushPullHeader precedes the pushNodeState array and delegate user-state
// blob on a push/pull TCP stream.
type pushPullHeader struct {
	Nodes        int
	UserStateLen int
	Join         bool
}

func vsnOf(n *NodeState) [6]uint8 {
	return [6]uint8{n.PMin, n.PMax, n.PCur, n.DMin, n.DMax, n.DCur}
}

package serf

import (
	"bytes"
	"time"

	mpcodec "github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = &mpcodec.MsgpackHandle{}

// messageType identifies the Serf-layer gossip messages carried inside
// internal/codec frames, on top of (and distinct from) the gossip
// engine's own message types.
type messageType uint8

const (
	messageLeaveType messageType = iota
	messageJoinType
	messagePushPullType
	messageUserEventType
	messageQueryType
	messageQueryResponseType
	messageConflictResponseType
	messageKeyResponseType
	messageRemoveFailedType
)

// filterType selects which filter encodeFilter/decodeFilter applies.
type filterType uint8

const (
	filterNodeType filterType = iota
	filterTagType
)

// messageJoin is broadcast on join, associating a node with the Lamport
// time of its join intent.
type messageJoin struct {
	LTime LamportTime
	Node  string
}

// messageLeave is broadcast to signal the intention to leave.
type messageLeave struct {
	LTime LamportTime
	Node  string
}

// messageRemoveFailed is broadcast by RemoveFailedNode to authoritatively
// force-evict a member that will never come back.
type messageRemoveFailed struct {
	LTime LamportTime
	Node  string
}

// messagePushPull carries a push/pull anti-entropy exchange of intent
// clocks, left-member set, and recent user events.
type messagePushPull struct {
	LTime        LamportTime
	StatusLTimes map[string]LamportTime
	LeftMembers  []string
	EventLTime   LamportTime
	Events       []*userEvents
}

// messageUserEvent is a user-generated broadcast event.
type messageUserEvent struct {
	LTime   LamportTime
	Name    string
	Payload []byte
	CC      bool // "Can Coalesce"
}

// messageQuery is a query broadcast.
type messageQuery struct {
	LTime       LamportTime
	ID          uint32
	Addr        []byte
	Port        uint16
	Filters     [][]byte
	Ack         bool
	RelayFactor uint8
	Timeout     time.Duration
	Name        string
	Payload     []byte
}

// filterNode is a whitelist of node names.
type filterNode []string

// filterTag is a tag-name -> anchored-regex filter.
type filterTag struct {
	Tag  string
	Expr string
}

// messageQueryResponse answers a query, either as a bare ack or carrying
// a payload.
type messageQueryResponse struct {
	LTime   LamportTime
	ID      uint32
	From    string
	Ack     bool
	Payload []byte
}

// decodeMessage decodes buf (type byte already stripped by the caller)
// into out.
func decodeMessage(buf []byte, out interface{}) error {
	dec := mpcodec.NewDecoder(bytes.NewReader(buf), msgpackHandle)
	return dec.Decode(out)
}

// encodeMessage prefixes msg's msgpack encoding with t, the Serf-layer
// framing this package's own dispatcher switches on (carried opaquely
// inside the gossip engine's TypeUser packets).
func encodeMessage(t messageType, msg interface{}) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	buf.WriteByte(byte(t))
	enc := mpcodec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeFilter mirrors encodeMessage for the node/tag query filters.
func encodeFilter(f filterType, filt interface{}) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 64))
	buf.WriteByte(byte(f))
	enc := mpcodec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(filt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFilter(buf []byte, out interface{}) error {
	dec := mpcodec.NewDecoder(bytes.NewReader(buf), msgpackHandle)
	return dec.Decode(out)
}

package serf

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"
)

// EventType is the category of an event delivered on the configured
// event channel.
type EventType int

const (
	EventMemberJoin EventType = iota
	EventMemberLeave
	EventMemberFailed
	EventMemberUpdate
	EventMemberReap
	EventUser
	EventQuery
)

func (t EventType) String() string {
	switch t {
	case EventMemberJoin:
		return "member-join"
	case EventMemberLeave:
		return "member-leave"
	case EventMemberFailed:
		return "member-failed"
	case EventMemberUpdate:
		return "member-update"
	case EventMemberReap:
		return "member-reap"
	case EventUser:
		return "user"
	case EventQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Event is anything delivered on a Serf event channel.
type Event interface {
	EventType() EventType
}

// MemberEvent is fired on any membership change. Because events are
// coalesced, one MemberEvent may batch several members.
type MemberEvent struct {
	Type    EventType
	Members []Member
}

func (m MemberEvent) EventType() EventType { return m.Type }

// UserEvent is a user-dispatched, potentially-coalesced broadcast event.
type UserEvent struct {
	LTime    LamportTime
	Name     string
	Payload  []byte
	Coalesce bool
}

func (u UserEvent) EventType() EventType { return EventUser }

// userEvents buffers recently seen user events at one ring-buffer slot,
// keyed by name for coalescence.
type userEvents struct {
	LTime  LamportTime
	Events []userEvent
}

type userEvent struct {
	Name    string
	Payload []byte
}

func (u *userEvent) Equals(other *userEvent) bool {
	return u.Name == other.Name && bytes.Equal(u.Payload, other.Payload)
}

// QueryParam configures an outbound Query.
type QueryParam struct {
	FilterNodes []string
	FilterTags  map[string]string
	RequestAck  bool
	RelayFactor uint8
	Timeout     time.Duration
}

// DefaultQueryTimeout picks a timeout proportional to cluster size when
// the caller leaves QueryParam.Timeout unset.
func (s *Serf) DefaultQueryTimeout() time.Duration {
	n := s.NumMembers()
	timeout := s.config.MemberlistConfig.GossipInterval * time.Duration(s.config.QueryTimeoutMult)
	scaled := time.Duration(1)
	for n > 1 {
		scaled *= 2
		n /= 2
	}
	return timeout * scaled
}

// DefaultQueryParams returns QueryParam with no filters, no ack, and a
// size-scaled timeout.
func (s *Serf) DefaultQueryParams() *QueryParam {
	return &QueryParam{Timeout: s.DefaultQueryTimeout()}
}

func (q *QueryParam) encodeFilters() ([][]byte, error) {
	var filters [][]byte
	if len(q.FilterNodes) > 0 {
		buf, err := encodeFilter(filterNodeType, filterNode(q.FilterNodes))
		if err != nil {
			return nil, err
		}
		filters = append(filters, buf)
	}
	for tag, expr := range q.FilterTags {
		buf, err := encodeFilter(filterTagType, filterTag{Tag: tag, Expr: expr})
		if err != nil {
			return nil, err
		}
		filters = append(filters, buf)
	}
	return filters, nil
}

// Query is delivered to the local event pipeline when a query (from a
// peer or internally) matches this node's filters.
type Query struct {
	LTime       LamportTime
	Name        string
	Payload     []byte
	serf        *Serf
	id          uint32
	addr        net.IP
	port        uint16
	deadline    time.Time
	relayFactor uint8

	respLock sync.Mutex
	responded bool
}

func (q *Query) EventType() EventType { return EventQuery }

// Deadline returns when responses to this query stop being accepted.
func (q *Query) Deadline() time.Time { return q.deadline }

// Respond sends buf directly back to the query's source. The query's
// relay factor is not used; no copy is sent through other peers.
func (q *Query) Respond(buf []byte) error {
	q.respLock.Lock()
	defer q.respLock.Unlock()
	if q.responded {
		return fmt.Errorf("query already responded to")
	}
	if time.Now().After(q.deadline) {
		return fmt.Errorf("response is past the query deadline")
	}

	resp := messageQueryResponse{
		LTime:   q.LTime,
		ID:      q.id,
		From:    q.serf.config.NodeName,
		Payload: buf,
	}
	raw, err := encodeMessage(messageQueryResponseType, &resp)
	if err != nil {
		return err
	}

	q.responded = true
	return q.serf.sendQueryResponse(q, raw)
}

// QueryResponse is returned by Serf.Query to the caller, streaming acks
// and payloads until the deadline passes.
type QueryResponse struct {
	ackCh    chan string
	respCh   chan NodeResponse
	deadline time.Time
	lock     sync.Mutex
	closed   bool
}

// NodeResponse pairs a responding node's name with its payload.
type NodeResponse struct {
	From    string
	Payload []byte
}

func newQueryResponse(n int, deadline time.Time) *QueryResponse {
	return &QueryResponse{
		ackCh:    make(chan string, n),
		respCh:   make(chan NodeResponse, n),
		deadline: deadline,
	}
}

// AckCh streams node names as acks arrive.
func (r *QueryResponse) AckCh() <-chan string { return r.ackCh }

// ResponseCh streams payload responses as they arrive.
func (r *QueryResponse) ResponseCh() <-chan NodeResponse { return r.respCh }

// Deadline returns when the response channels close.
func (r *QueryResponse) Deadline() time.Time { return r.deadline }

// Finished reports whether the deadline has passed.
func (r *QueryResponse) Finished() bool { return time.Now().After(r.deadline) }

func (r *QueryResponse) sendAck(from string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ackCh <- from:
	default:
	}
}

func (r *QueryResponse) sendResponse(nr NodeResponse) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return
	}
	select {
	case r.respCh <- nr:
	default:
	}
}

func (r *QueryResponse) close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ackCh)
	close(r.respCh)
}

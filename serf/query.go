package serf

import (
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/armon/go-metrics"
)

// Query broadcasts name/payload to the cluster and returns a
// QueryResponse streaming acks/replies until the deadline.
func (s *Serf) Query(name string, payload []byte, params *QueryParam) (*QueryResponse, error) {
	if params == nil {
		params = s.DefaultQueryParams()
	}
	if params.Timeout == 0 {
		params.Timeout = s.DefaultQueryTimeout()
	}

	filters, err := params.encodeFilters()
	if err != nil {
		return nil, err
	}

	s.queryLock.Lock()
	ltime := s.queryClock.Increment()
	deadline := time.Now().Add(params.Timeout)
	n := s.NumMembers()
	resp := newQueryResponse(n, deadline)
	s.queryResponse[ltime] = resp
	s.queryLock.Unlock()

	local := s.gossip.LocalNode()
	q := messageQuery{
		LTime:       ltime,
		ID:          uint32(ltime),
		Addr:        []byte(local.Addr),
		Port:        local.Port,
		Filters:     filters,
		Ack:         params.RequestAck,
		RelayFactor: params.RelayFactor,
		Timeout:     params.Timeout,
		Name:        name,
		Payload:     payload,
	}
	raw, err := encodeMessage(messageQueryType, &q)
	if err != nil {
		return nil, err
	}
	if len(raw) > s.config.QuerySizeLimit {
		return nil, fmt.Errorf("query payload exceeds size limit of %d bytes", s.config.QuerySizeLimit)
	}

	s.queryBroadcasts.QueueBroadcast(&serfBroadcast{key: "", msg: raw})
	metrics.IncrCounter([]string{"serf", "query", name}, 1)

	go func() {
		<-time.After(time.Until(deadline))
		s.queryLock.Lock()
		delete(s.queryResponse, ltime)
		s.queryLock.Unlock()
		resp.close()
	}()

	return resp, nil
}

// handleQuery processes an incoming messageQuery: Witness, dedup,
// evaluate filters, dispatch, and ack/reply. Returns whether the
// message should be rebroadcast.
func (s *Serf) handleQuery(q *messageQuery) bool {
	s.queryClock.Witness(q.LTime)

	s.queryLock.Lock()
	if q.LTime < s.queryMinTime {
		s.queryLock.Unlock()
		return false
	}
	if s.seenQuery(q.LTime, q.ID) {
		s.queryLock.Unlock()
		return false
	}
	s.queryLock.Unlock()

	if !s.queryMatches(q) {
		return true
	}

	query := &Query{
		LTime:       q.LTime,
		Name:        q.Name,
		Payload:     q.Payload,
		serf:        s,
		id:          q.ID,
		addr:        net.IP(q.Addr),
		port:        q.Port,
		deadline:    time.Now().Add(q.Timeout),
		relayFactor: q.RelayFactor,
	}

	if isInternalQuery(q.Name) {
		go s.handleInternalQuery(query)
	} else if s.config.EventCh != nil {
		select {
		case s.config.EventCh <- query:
		default:
			s.logger.Warn("event channel full, dropping query", "name", q.Name)
		}
	}

	if q.Ack {
		ack := messageQueryResponse{LTime: q.LTime, ID: q.ID, From: s.config.NodeName, Ack: true}
		raw, err := encodeMessage(messageQueryResponseType, &ack)
		if err == nil {
			s.sendQueryResponse(query, raw)
		}
	}
	return true
}

func (s *Serf) seenQuery(ltime LamportTime, id uint32) bool {
	idx := int(ltime) % s.config.QueryBuffer
	if idx < 0 {
		idx = -idx
	}
	for len(s.queryBuffer) <= idx {
		s.queryBuffer = append(s.queryBuffer, nil)
	}
	slot := s.queryBuffer[idx]
	if slot == nil || slot.LTime != ltime {
		s.queryBuffer[idx] = &queries{LTime: ltime, IDs: []uint32{id}}
		return false
	}
	for _, seen := range slot.IDs {
		if seen == id {
			return true
		}
	}
	slot.IDs = append(slot.IDs, id)
	return false
}

// queryMatches evaluates the node-name and tag-regex filters: a query
// matches iff it passes both.
func (s *Serf) queryMatches(q *messageQuery) bool {
	local := s.config.NodeName
	s.memberLock.RLock()
	tags := map[string]string{}
	if m, ok := s.members[local]; ok {
		tags = m.Tags
	}
	s.memberLock.RUnlock()

	for _, f := range q.Filters {
		if len(f) == 0 {
			continue
		}
		switch filterType(f[0]) {
		case filterNodeType:
			var names filterNode
			if err := decodeFilter(f[1:], &names); err != nil {
				return false
			}
			found := false
			for _, n := range names {
				if n == local {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case filterTagType:
			var ft filterTag
			if err := decodeFilter(f[1:], &ft); err != nil {
				return false
			}
			re, err := regexp.Compile("^" + ft.Expr + "$")
			if err != nil {
				return false
			}
			if !re.MatchString(tags[ft.Tag]) {
				return false
			}
		}
	}
	return true
}

// handleQueryResponse routes an incoming ack/response to the local
// caller's QueryResponse, if one is still open.
func (s *Serf) handleQueryResponse(r *messageQueryResponse) {
	s.queryClock.Witness(r.LTime)

	s.queryLock.Lock()
	resp, ok := s.queryResponse[r.LTime]
	s.queryLock.Unlock()
	if !ok || resp.Finished() {
		return
	}
	if r.Ack {
		resp.sendAck(r.From)
	} else {
		resp.sendResponse(NodeResponse{From: r.From, Payload: r.Payload})
	}
}

func isInternalQuery(name string) bool {
	return len(name) >= len(InternalQueryPrefix) && name[:len(InternalQueryPrefix)] == InternalQueryPrefix
}

package serf

import (
	"github.com/armon/go-metrics"

	"github.com/clustermesh/serf/internal/gossip"
)

// NodeMeta returns the encoded tags to advertise as this node's opaque
// gossip metadata, bounded by gossip.MetaMaxSize.
func (s *Serf) NodeMeta(limit int) []byte {
	meta, err := encodeTags(s.config.Tags)
	if err != nil {
		s.logger.Error("failed to encode tags", "error", err)
		return nil
	}
	if len(meta) > limit {
		s.logger.Error("encoded tags exceed length limit", "limit", limit)
		return nil
	}
	return meta
}

// NotifyMsg decodes a piggybacked Serf-layer message and routes it to
// the matching intent/event/query handler, rebroadcasting when the
// handler reports the message caused a state change.
func (s *Serf) NotifyMsg(buf []byte) {
	if len(buf) == 0 {
		return
	}

	rebroadcast := false
	queue := s.intentBroadcasts
	t := messageType(buf[0])
	switch t {
	case messageJoinType:
		var msg messageJoin
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding join message", "error", err)
			return
		}
		rebroadcast = s.handleNodeJoinIntent(&msg)

	case messageLeaveType:
		var msg messageLeave
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding leave message", "error", err)
			return
		}
		rebroadcast = s.handleNodeLeaveIntent(&msg)

	case messageRemoveFailedType:
		var msg messageRemoveFailed
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding remove-failed message", "error", err)
			return
		}
		rebroadcast = s.handleRemoveFailed(&msg)

	case messageUserEventType:
		var msg messageUserEvent
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding user event message", "error", err)
			return
		}
		queue = s.eventBroadcasts
		rebroadcast = s.handleUserEvent(&msg)

	case messageQueryType:
		var msg messageQuery
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding query message", "error", err)
			return
		}
		queue = s.queryBroadcasts
		rebroadcast = s.handleQuery(&msg)

	case messageQueryResponseType:
		var msg messageQueryResponse
		if err := decodeMessage(buf[1:], &msg); err != nil {
			s.logger.Error("error decoding query response message", "error", err)
			return
		}
		s.handleQueryResponse(&msg)
		return

	default:
		s.logger.Warn("received message of unknown type", "type", t)
		return
	}

	if rebroadcast {
		queue.QueueBroadcast(&serfBroadcast{msg: buf})
	}
	metrics.IncrCounter([]string{"serf", "msgs", "received"}, 1)
}

// GetBroadcasts drains the intent, event, and query broadcast queues in
// that priority order within the byte budget, letting the gossip engine
// piggyback Serf-layer gossip on its own probe acks and rounds.
func (s *Serf) GetBroadcasts(overhead, limit int) [][]byte {
	var msgs [][]byte
	for _, q := range []*gossip.TransmitLimitedQueue{s.intentBroadcasts, s.eventBroadcasts, s.queryBroadcasts} {
		batch := q.GetBroadcasts(overhead, limit)
		for _, m := range batch {
			limit -= len(m) + overhead
		}
		msgs = append(msgs, batch...)
	}
	return msgs
}

// LocalState builds the push/pull anti-entropy payload: the local
// clocks, known member-status clocks, the left-member set, and a
// snapshot of recently buffered user events.
func (s *Serf) LocalState(join bool) []byte {
	s.memberLock.RLock()
	statusLTimes := make(map[string]LamportTime, len(s.members))
	var left []string
	for name, m := range s.members {
		statusLTimes[name] = m.statusLTime
		if m.Status == StatusLeft {
			left = append(left, name)
		}
	}
	s.memberLock.RUnlock()

	s.eventLock.Lock()
	events := make([]*userEvents, len(s.eventBuffer))
	copy(events, s.eventBuffer)
	eventLTime := s.eventClock.Time()
	s.eventLock.Unlock()

	pp := messagePushPull{
		LTime:        s.clock.Time(),
		StatusLTimes: statusLTimes,
		LeftMembers:  left,
		EventLTime:   eventLTime,
		Events:       events,
	}
	raw, err := encodeMessage(messagePushPullType, &pp)
	if err != nil {
		s.logger.Error("failed to encode local state", "error", err)
		return nil
	}
	return raw
}

// MergeRemoteState decodes a peer's push/pull payload, witnesses its
// clocks, replays any left members and buffered events we haven't seen,
// and applies any buffered leave intent onto members we only just
// learned about through this exchange.
func (s *Serf) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 || messageType(buf[0]) != messagePushPullType {
		s.logger.Error("remote state has bad type prefix")
		return
	}
	var pp messagePushPull
	if err := decodeMessage(buf[1:], &pp); err != nil {
		s.logger.Error("failed to decode remote state", "error", err)
		return
	}

	s.clock.Witness(pp.LTime)

	s.memberLock.Lock()
	for _, name := range pp.LeftMembers {
		ltime, ok := pp.StatusLTimes[name]
		if !ok {
			continue
		}
		m, ok := s.members[name]
		if !ok {
			s.recentIntents[name] = nodeIntent{LTime: ltime, Type: messageLeaveType}
			continue
		}
		applyLeaveIntent(m, ltime)
	}
	s.memberLock.Unlock()

	s.eventClock.Witness(pp.EventLTime)
	s.eventLock.Lock()
	if join && s.joinIgnore && pp.EventLTime >= s.eventMinTime {
		s.eventMinTime = pp.EventLTime + 1
	}
	s.eventLock.Unlock()
	for _, evs := range pp.Events {
		for _, e := range evs.Events {
			s.handleUserEvent(&messageUserEvent{
				LTime:   evs.LTime,
				Name:    e.Name,
				Payload: e.Payload,
			})
		}
	}
}

var _ gossip.Delegate = (*Serf)(nil)

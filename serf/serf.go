package serf

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/clustermesh/serf/coordinate"
	"github.com/clustermesh/serf/internal/gossip"
)

// SerfState is the coordinator's own lifecycle state, distinct from any
// single member's MemberStatus.
type SerfState int

const (
	SerfAlive SerfState = iota
	SerfLeaving
	SerfLeft
	SerfShutdown
)

func (s SerfState) String() string {
	switch s {
	case SerfAlive:
		return "alive"
	case SerfLeaving:
		return "leaving"
	case SerfLeft:
		return "left"
	case SerfShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// nodeIntent records the most recent join/leave intent buffered for a
// member, keyed by name, so it can be replayed once the member is
// learned about via gossip.
type nodeIntent struct {
	LTime LamportTime
	Type  messageType
	seen  time.Time
}

// Serf is the membership, gossip, event, and query coordinator.
// It wires the codec, transport, gossip engine, broadcast queues,
// snapshotter, and key manager together and owns the fine-grained
// lock set its concurrency model requires.
type Serf struct {
	config *Config
	gossip *gossip.Gossip
	logger *slog.Logger

	clock      LamportClock
	eventClock LamportClock
	queryClock LamportClock

	memberLock    sync.RWMutex
	members       map[string]*memberState
	recentIntents map[string]nodeIntent
	failedMembers []*memberState
	leftMembers   []*memberState

	eventLock    sync.Mutex
	eventBuffer  []*userEvents
	eventMinTime LamportTime
	joinIgnore   bool

	queryLock     sync.Mutex
	queryBuffer   []*queries
	queryMinTime  LamportTime
	queryResponse map[LamportTime]*QueryResponse

	stateLock sync.Mutex
	state     SerfState

	joinLock sync.Mutex

	coordCacheLock sync.RWMutex
	coordCache     map[string]*coordinate.Coordinate
	coordClient    *coordinate.Client

	intentBroadcasts *gossip.TransmitLimitedQueue
	eventBroadcasts  *gossip.TransmitLimitedQueue
	queryBroadcasts  *gossip.TransmitLimitedQueue

	snapshotter *Snapshotter
	keyManager  *KeyManager

	shutdownLock sync.Mutex
	shutdownCh   chan struct{}
}

// queries is the query-layer analogue of userEvents: one Lamport-time
// ring slot recording query IDs already seen, for dedup.
type queries struct {
	LTime LamportTime
	IDs   []uint32
}

// Create assembles a Serf coordinator: transport + gossip engine, per-
// class broadcast queues, optional snapshot replay, optional key
// manager, and starts the reaper/reconnector loops.
func Create(conf *Config) (*Serf, error) {
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	if conf.MemberlistConfig == nil {
		conf.MemberlistConfig = gossip.DefaultLANConfig()
	}

	s := &Serf{
		config:        conf,
		logger:        conf.Logger,
		members:       make(map[string]*memberState),
		recentIntents: make(map[string]nodeIntent),
		queryResponse: make(map[LamportTime]*QueryResponse),
		coordCache:    make(map[string]*coordinate.Coordinate),
		shutdownCh:    make(chan struct{}),
		state:         SerfAlive,
	}
	s.intentBroadcasts = gossip.NewTransmitLimitedQueue(conf.MemberlistConfig.RetransmitMult, s.NumMembers)
	s.eventBroadcasts = gossip.NewTransmitLimitedQueue(conf.MemberlistConfig.RetransmitMult, s.NumMembers)
	s.queryBroadcasts = gossip.NewTransmitLimitedQueue(conf.MemberlistConfig.RetransmitMult, s.NumMembers)

	if !conf.DisableCoordinates {
		client, err := coordinate.NewClient(coordinate.DefaultConfig())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create coordinate client")
		}
		s.coordClient = client
	}

	if conf.KeyringFile != "" {
		keyring, err := loadKeyringFile(conf.KeyringFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load keyring file")
		}
		conf.MemberlistConfig.Keyring = keyring
	}

	if conf.TagsFile != "" {
		tags, err := loadTagsFile(conf.TagsFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load tags file")
		}
		if conf.Tags == nil {
			conf.Tags = tags
		} else {
			for k, v := range tags {
				conf.Tags[k] = v
			}
		}
	}

	var oldClock, oldEventClock, oldQueryClock LamportTime
	var alive []string
	if conf.SnapshotPath != "" {
		snap, recovered, rClock, rEventClock, rQueryClock, err := newSnapshotter(conf.SnapshotPath, conf, s, s.shutdownCh)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load snapshot")
		}
		s.snapshotter = snap
		alive = recovered
		oldClock, oldEventClock, oldQueryClock = rClock, rEventClock, rQueryClock
	}
	s.clock.Witness(oldClock)
	s.eventClock.Witness(oldEventClock)
	s.queryClock.Witness(oldQueryClock)

	conf.MemberlistConfig.Delegate = s
	conf.MemberlistConfig.Events = s
	conf.MemberlistConfig.Merge = s
	conf.MemberlistConfig.Ping = s
	conf.MemberlistConfig.Conflict = s
	conf.MemberlistConfig.Name = conf.NodeName

	g, err := gossip.Create(conf.MemberlistConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gossip engine")
	}
	s.gossip = g

	local := g.LocalNode()
	s.memberLock.Lock()
	s.members[conf.NodeName] = &memberState{
		Member: Member{
			Name:   conf.NodeName,
			Addr:   local.Addr,
			Port:   local.Port,
			Tags:   conf.Tags,
			Status: StatusAlive,
		},
	}
	s.memberLock.Unlock()

	if conf.KeyringFile != "" || conf.MemberlistConfig.Keyring != nil {
		s.keyManager = newKeyManager(s)
	}

	if conf.EventCh != nil && conf.CoalescePeriod > 0 {
		userCh := coalescedUserEventCh(conf.EventCh, s.shutdownCh, conf.UserCoalescePeriod, conf.UserQuiescentPeriod)
		conf.EventCh = coalescedEventCh(userCh, s.shutdownCh, conf.CoalescePeriod, conf.QuiescentPeriod,
			&memberEventCoalescer{lastEvents: make(map[string]*latestMemberEvent), newEvents: make(map[string]*latestMemberEvent)})
	}

	go s.handleReap()
	go s.handleReconnect()

	for _, addr := range alive {
		go func(a string) { s.Join([]string{a}, true) }(a)
	}

	return s, nil
}

// ProtocolVersion returns the Serf-layer protocol version in use.
func (s *Serf) ProtocolVersion() uint8 { return s.config.ProtocolVersion }

// EncryptionEnabled reports whether a keyring is configured.
func (s *Serf) EncryptionEnabled() bool {
	return s.config.MemberlistConfig.Keyring != nil
}

// State returns the coordinator's own lifecycle state.
func (s *Serf) State() SerfState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// NumMembers returns the number of known members in any state.
func (s *Serf) NumMembers() int {
	s.memberLock.RLock()
	defer s.memberLock.RUnlock()
	return len(s.members)
}

// Members returns a point-in-time snapshot of all known members.
func (s *Serf) Members() []Member {
	s.memberLock.RLock()
	defer s.memberLock.RUnlock()
	out := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.Member)
	}
	return out
}

// LocalMember returns this node's own current Member record.
func (s *Serf) LocalMember() Member {
	s.memberLock.RLock()
	defer s.memberLock.RUnlock()
	return s.members[s.config.NodeName].Member
}

// Join contacts existing via TCP push/pull, merging cluster state. When
// ignoreOld is true, events replayed purely as a side effect of the
// state merge (rather than observed live) are suppressed, so a late
// joiner does not re-fire history as if it just happened.
func (s *Serf) Join(existing []string, ignoreOld bool) (int, error) {
	s.joinLock.Lock()
	defer s.joinLock.Unlock()

	if s.State() != SerfAlive {
		return 0, fmt.Errorf("Join called on a Serf that is not alive")
	}

	if ignoreOld {
		s.eventLock.Lock()
		s.joinIgnore = true
		s.eventLock.Unlock()
		defer func() {
			s.eventLock.Lock()
			s.joinIgnore = false
			s.eventLock.Unlock()
		}()
	}

	n, err := s.gossip.Join(existing)
	if n > 0 {
		metrics.IncrCounter([]string{"serf", "join"}, float32(n))
		if berr := s.broadcastJoin(s.clock.Time()); berr != nil {
			return n, berr
		}
	}
	return n, err
}

// broadcastJoin announces (or re-announces) this node's own join intent
// at the given Lamport time.
func (s *Serf) broadcastJoin(ltime LamportTime) error {
	msg := messageJoin{LTime: ltime, Node: s.config.NodeName}
	s.clock.Witness(ltime)

	s.memberLock.Lock()
	if m, ok := s.members[s.config.NodeName]; ok {
		applyJoinIntent(m, ltime)
	}
	s.memberLock.Unlock()

	raw, err := encodeMessage(messageJoinType, &msg)
	if err != nil {
		return err
	}
	s.intentBroadcasts.QueueBroadcast(&serfBroadcast{key: "join:" + s.config.NodeName, msg: raw})
	return nil
}

// Leave gracefully removes this node from the cluster: broadcasts a
// leave intent, waits briefly for propagation, tells the gossip engine
// to leave, then transitions to Left.
func (s *Serf) Leave() error {
	s.stateLock.Lock()
	if s.state == SerfLeft {
		s.stateLock.Unlock()
		return nil
	}
	if s.state == SerfLeaving {
		s.stateLock.Unlock()
		return fmt.Errorf("Leave already in progress")
	}
	if s.state == SerfShutdown {
		s.stateLock.Unlock()
		return fmt.Errorf("Leave called after Shutdown")
	}
	s.state = SerfLeaving
	s.stateLock.Unlock()
	defer func() {
		s.stateLock.Lock()
		if s.state != SerfShutdown {
			s.state = SerfLeft
		}
		s.stateLock.Unlock()
	}()

	ltime := s.clock.Increment()
	msg := messageLeave{LTime: ltime, Node: s.config.NodeName}
	s.memberLock.Lock()
	if m, ok := s.members[s.config.NodeName]; ok {
		applyLeaveIntent(m, ltime)
	}
	s.memberLock.Unlock()

	raw, err := encodeMessage(messageLeaveType, &msg)
	if err != nil {
		return err
	}
	notify := make(chan struct{})
	s.intentBroadcasts.QueueBroadcast(&serfBroadcast{key: "join:" + s.config.NodeName, msg: raw, notify: notify})

	select {
	case <-notify:
	case <-time.After(s.config.BroadcastTimeout):
	}

	if err := s.gossip.Leave(); err != nil {
		s.logger.Error("failed to broadcast gossip leave", "error", err)
	}

	if s.snapshotter != nil {
		s.snapshotter.Leave()
	}

	time.Sleep(s.config.LeavePropagateDelay)
	return nil
}

// RemoveFailedNode forces node out of the cluster permanently, without
// waiting for it to be reachable, by broadcasting an authoritative
// remove-failed message.
func (s *Serf) RemoveFailedNode(node string) error {
	s.memberLock.Lock()
	m, ok := s.members[node]
	if !ok || (m.Status != StatusFailed && m.Status != StatusLeft) {
		s.memberLock.Unlock()
		if !ok {
			return fmt.Errorf("unknown node %q", node)
		}
		return fmt.Errorf("node %q is not failed or left", node)
	}
	ltime := s.clock.Increment()
	m.Status = StatusLeft
	m.statusLTime = ltime
	s.trackStatusChange(m)
	s.memberLock.Unlock()

	msg := messageRemoveFailed{LTime: ltime, Node: node}
	raw, err := encodeMessage(messageRemoveFailedType, &msg)
	if err != nil {
		return err
	}
	s.intentBroadcasts.QueueBroadcast(&serfBroadcast{key: "join:" + node, msg: raw})
	return nil
}

// Shutdown immediately halts all background activity without notifying
// peers. Leave should usually be called first.
func (s *Serf) Shutdown() error {
	s.stateLock.Lock()
	if s.state == SerfShutdown {
		s.stateLock.Unlock()
		return nil
	}
	if s.state != SerfLeft {
		s.logger.Warn("shutdown without a graceful leave")
	}
	s.state = SerfShutdown
	s.stateLock.Unlock()

	close(s.shutdownCh)

	var merr *multierror.Error
	if err := s.gossip.Shutdown(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if s.snapshotter != nil {
		s.snapshotter.Shutdown()
	}
	return merr.ErrorOrNil()
}

// serfBroadcast adapts an encoded Serf message into the gossip.Broadcast
// interface, grounded on Serf's serf/broadcast.go.
type serfBroadcast struct {
	key    string
	msg    []byte
	notify chan struct{}
}

func (b *serfBroadcast) Invalidates(other gossip.Broadcast) bool {
	o, ok := other.(*serfBroadcast)
	return ok && b.key != "" && b.key == o.key
}
func (b *serfBroadcast) BroadcastKey() string { return b.key }
func (b *serfBroadcast) Message() []byte      { return b.msg }
func (b *serfBroadcast) Finished() {
	if b.notify != nil {
		close(b.notify)
	}
}

// handleNodeJoin is the authoritative EventDelegate.NotifyJoin callback:
// the gossip engine itself confirmed this node alive.
func (s *Serf) handleNodeJoin(n *gossip.Node) {
	s.memberLock.Lock()

	m, ok := s.members[n.Name]
	if !ok {
		m = &memberState{Member: Member{Name: n.Name, Addr: n.Addr, Port: n.Port, Status: StatusNone}}
		decodeTagsInto(n.Meta, &m.Member)
		s.members[n.Name] = m
	} else {
		decodeTagsInto(n.Meta, &m.Member)
		m.Addr = n.Addr
		m.Port = n.Port
	}
	result := onMemberlistJoin(m)
	if !ok {
		s.replayIntents(m)
	}
	if result == StateChanged {
		s.trackStatusChange(m)
	}
	mem := m.Member
	s.memberLock.Unlock()

	if result == StateChanged {
		s.fireMemberEvent(EventMemberJoin, []Member{mem})
	}
}

// handleNodeLeave is the authoritative EventDelegate.NotifyLeave callback.
func (s *Serf) handleNodeLeave(n *gossip.Node) {
	s.memberLock.Lock()
	m, ok := s.members[n.Name]
	if !ok {
		s.memberLock.Unlock()
		return
	}
	result := onMemberlistLeave(m, m.Status != StatusLeaving && m.Status != StatusLeft)
	if result == StateChanged {
		s.trackStatusChange(m)
	}
	mem := m.Member
	s.memberLock.Unlock()

	if result == StateChanged {
		evt := EventMemberFailed
		if mem.Status == StatusLeft {
			evt = EventMemberLeave
		}
		s.fireMemberEvent(evt, []Member{mem})
		if s.snapshotter != nil {
			s.snapshotter.removeAlive(n.Name)
		}
	}
}

// handleNodeUpdate is the EventDelegate.NotifyUpdate callback, fired when
// a member's metadata (tags) changed without a state transition.
func (s *Serf) handleNodeUpdate(n *gossip.Node) {
	s.memberLock.Lock()
	m, ok := s.members[n.Name]
	if !ok {
		s.memberLock.Unlock()
		return
	}
	decodeTagsInto(n.Meta, &m.Member)
	mem := m.Member
	s.memberLock.Unlock()
	s.fireMemberEvent(EventMemberUpdate, []Member{mem})
}

// replayIntents applies any buffered join/leave intent for a
// newly-learned member. Caller must hold memberLock.
func (s *Serf) replayIntents(m *memberState) {
	intent, ok := s.recentIntents[m.Name]
	if !ok {
		return
	}
	switch intent.Type {
	case messageJoinType:
		applyJoinIntent(m, intent.LTime)
	case messageLeaveType:
		applyLeaveIntent(m, intent.LTime)
	}
	delete(s.recentIntents, m.Name)
}

func (s *Serf) fireMemberEvent(t EventType, members []Member) {
	e := MemberEvent{Type: t, Members: members}
	if s.snapshotter != nil {
		s.snapshotter.RecordMemberEvent(e)
	}
	if s.config.EventCh == nil {
		return
	}
	select {
	case s.config.EventCh <- e:
	default:
		s.logger.Warn("event channel full, dropping member event", "type", t.String())
	}
}

// handleNodeJoinIntent applies an incoming join intent and reports
// whether it should be rebroadcast.
func (s *Serf) handleNodeJoinIntent(j *messageJoin) bool {
	s.memberLock.Lock()
	defer s.memberLock.Unlock()

	s.clock.Witness(j.LTime)

	m, ok := s.members[j.Node]
	if !ok {
		s.recentIntents[j.Node] = nodeIntent{LTime: j.LTime, Type: messageJoinType, seen: time.Now()}
		return true
	}
	changed := applyJoinIntent(m, j.LTime) == StateChanged
	if changed {
		s.trackStatusChange(m)
	}
	return changed
}

// handleNodeLeaveIntent applies an incoming leave intent, including the
// local-node refutation special case: a leave aimed at us while Alive
// is answered by bumping our own clock and re-broadcasting a join,
// which naturally outdates the leave.
func (s *Serf) handleNodeLeaveIntent(l *messageLeave) bool {
	if l.Node == s.config.NodeName {
		s.memberLock.RLock()
		local, ok := s.members[s.config.NodeName]
		isAlive := ok && local.Status == StatusAlive
		s.memberLock.RUnlock()
		if isAlive {
			ltime := s.clock.Increment()
			s.broadcastJoin(ltime)
			return false
		}
	}

	s.memberLock.Lock()
	defer s.memberLock.Unlock()

	s.clock.Witness(l.LTime)

	m, ok := s.members[l.Node]
	if !ok {
		s.recentIntents[l.Node] = nodeIntent{LTime: l.LTime, Type: messageLeaveType, seen: time.Now()}
		return true
	}
	changed := applyLeaveIntent(m, l.LTime) == StateChanged
	if changed {
		s.trackStatusChange(m)
	}
	return changed
}

// handleRemoveFailed applies an authoritative force-remove broadcast.
func (s *Serf) handleRemoveFailed(r *messageRemoveFailed) bool {
	s.memberLock.Lock()
	defer s.memberLock.Unlock()
	s.clock.Witness(r.LTime)

	m, ok := s.members[r.Node]
	if !ok || r.LTime <= m.statusLTime {
		return false
	}
	m.statusLTime = r.LTime
	m.Status = StatusLeft
	s.trackStatusChange(m)
	return true
}

func decodeTagsInto(meta []byte, m *Member) {
	if len(meta) == 0 {
		return
	}
	tags, err := decodeTags(meta)
	if err != nil {
		return
	}
	m.Tags = tags
}

// sendQueryResponse delivers a query response directly to its source.
func (s *Serf) sendQueryResponse(q *Query, raw []byte) error {
	addr := net.JoinHostPort(q.addr.String(), strconv.Itoa(int(q.port)))
	return s.gossip.SendToAddr(addr, raw)
}

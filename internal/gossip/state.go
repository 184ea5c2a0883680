package gossip

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/armon/go-metrics"

	"github.com/clustermesh/serf/internal/codec"
)

// broadcastEnvelope adapts an already-encoded message into the Broadcast
// interface the transmit queue expects, matching Serf's
// serf/broadcast.go memberlistBroadcast shape.
type broadcastEnvelope struct {
	key      string
	msg      []byte
	notify   chan struct{}
}

func (b *broadcastEnvelope) Invalidates(other Broadcast) bool {
	o, ok := other.(*broadcastEnvelope)
	return ok && b.key != "" && b.key == o.key
}
func (b *broadcastEnvelope) BroadcastKey() string { return b.key }
func (b *broadcastEnvelope) Message() []byte      { return b.msg }
func (b *broadcastEnvelope) Finished() {
	if b.notify != nil {
		close(b.notify)
	}
}

func (g *Gossip) encodeAndBroadcast(key string, t codec.MessageType, msg interface{}) {
	buf, err := codec.Encode(t, msg)
	if err != nil {
		g.logger.Error("failed to encode broadcast", "error", err)
		return
	}
	g.broadcasts.QueueBroadcast(&broadcastEnvelope{key: key, msg: buf})
}

// packetPump drains inbound UDP datagrams, unwraps label/crc/encryption/
// compression, and dispatches by message type.
func (g *Gossip) packetPump() {
	defer g.wg.Done()
	for {
		select {
		case p := <-g.transport.PacketCh():
			g.handlePacket(p)
		case <-g.shutdown:
			return
		}
	}
}

func (g *Gossip) handlePacket(p *Packet) {
	buf := p.Buf
	var err error
	if g.config.Label != "" {
		buf, err = codec.RemoveLabel(buf, g.config.Label)
		if err != nil {
			g.logger.Debug("label mismatch on packet", "error", err, "from", p.From)
			return
		}
	}
	if len(buf) > 0 && codec.MessageType(buf[0]) == codec.TypeEncrypt {
		if g.config.Keyring == nil {
			g.logger.Debug("encrypted packet but no keyring configured")
			return
		}
		buf, err = codec.Decrypt(g.config.Keyring.GetKeys(), buf[1:], []byte(g.config.Label))
		if err != nil {
			g.logger.Debug("decrypt failed", "error", err)
			return
		}
	}
	buf, err = codec.VerifyAndStripCRC(buf)
	if err != nil {
		g.logger.Debug("crc check failed", "error", err, "from", p.From)
		return
	}
	g.dispatch(buf, p.From, p.Timestamp)
}

func (g *Gossip) dispatch(buf []byte, from net.Addr, ts time.Time) {
	if len(buf) < 1 {
		return
	}
	t := codec.MessageType(buf[0])
	body := buf[1:]

	if t == codec.TypeCompress {
		raw, err := codec.Decompress(body)
		if err != nil {
			g.logger.Debug("decompress failed", "error", err)
			return
		}
		if len(raw) > 0 && codec.MessageType(raw[0]) == codec.TypeCompress {
			g.logger.Debug("dropping nested compressed message", "from", from)
			return
		}
		g.dispatch(raw, from, ts)
		return
	}
	if t == codec.TypeCompound {
		parts, truncated, err := codec.DecodeCompound(body)
		if err != nil {
			g.logger.Debug("bad compound message", "error", err)
			return
		}
		if truncated {
			g.logger.Warn("compound message truncated", "from", from)
		}
		for _, part := range parts {
			g.dispatch(part, from, ts)
		}
		return
	}

	switch t {
	case codec.TypePing:
		var p ping
		if codec.Decode(body, &p) == nil {
			g.handlePing(&p, from)
		}
	case codec.TypeIndirectPing:
		var p indirectPingReq
		if codec.Decode(body, &p) == nil {
			g.handleIndirectPing(&p, from)
		}
	case codec.TypeAckResp:
		var a ackResp
		if codec.Decode(body, &a) == nil {
			g.invokeAckHandler(a, ts)
		}
	case codec.TypeNackResp:
		var n nackResp
		if codec.Decode(body, &n) == nil {
			g.invokeNackHandler(n)
		}
	case codec.TypeSuspect:
		var s suspect
		if codec.Decode(body, &s) == nil {
			g.suspectNode(&s)
		}
	case codec.TypeAlive:
		var a alive
		if codec.Decode(body, &a) == nil {
			g.aliveNode(&a, nil, false)
		}
	case codec.TypeDead:
		var d dead
		if codec.Decode(body, &d) == nil {
			g.deadNode(&d)
		}
	case codec.TypeUser:
		if g.config.Delegate != nil {
			g.config.Delegate.NotifyMsg(body)
		}
	default:
		metrics.IncrCounter([]string{"gossip", "msgs", "dropped"}, 1)
	}
}

func (g *Gossip) handlePing(p *ping, from net.Addr) {
	if p.Node != "" && p.Node != g.config.Name {
		return
	}
	ack := ackResp{SeqNo: p.SeqNo}
	if g.config.Ping != nil {
		ack.Payload = g.config.Ping.AckPayload()
	}
	buf, err := codec.Encode(codec.TypeAckResp, &ack)
	if err != nil {
		return
	}
	g.transport.SendPacket(from.String(), buf)
}

func (g *Gossip) handleIndirectPing(req *indirectPingReq, from net.Addr) {
	g.nodeLock.RLock()
	target, ok := g.nodeMap[req.Target]
	g.nodeLock.RUnlock()
	if !ok {
		return
	}

	relaySeq := g.nextSeqNo()
	sent := make(chan ackResp, 1)
	g.setAckHandler(relaySeq, func(payload []byte, _ time.Time) {
		sent <- ackResp{SeqNo: relaySeq, Payload: payload}
	}, nil, g.config.ProbeTimeout)

	buf, _ := codec.Encode(codec.TypePing, &ping{SeqNo: relaySeq, Node: req.Target})
	g.transport.SendPacket(target.Address(), buf)

	go func() {
		select {
		case res := <-sent:
			out, _ := codec.Encode(codec.TypeAckResp, &ackResp{SeqNo: req.SeqNo, Payload: res.Payload})
			g.transport.SendPacket(from.String(), out)
		case <-time.After(g.config.ProbeTimeout):
			out, _ := codec.Encode(codec.TypeNackResp, &nackResp{SeqNo: req.SeqNo})
			g.transport.SendPacket(from.String(), out)
		}
	}()
}

func (g *Gossip) setAckHandler(seq uint32, ackFn func([]byte, time.Time), nackFn func(), timeout time.Duration) {
	g.ackLock.Lock()
	defer g.ackLock.Unlock()
	timer := time.AfterFunc(timeout, func() {
		g.ackLock.Lock()
		delete(g.ackHandlers, seq)
		g.ackLock.Unlock()
	})
	g.ackHandlers[seq] = &ackHandler{ackFn: ackFn, nackFn: nackFn, timer: timer}
}

func (g *Gossip) invokeAckHandler(a ackResp, ts time.Time) {
	g.ackLock.Lock()
	h, ok := g.ackHandlers[a.SeqNo]
	if ok {
		delete(g.ackHandlers, a.SeqNo)
	}
	g.ackLock.Unlock()
	if !ok {
		return
	}
	h.timer.Stop()
	h.ackFn(a.Payload, ts)
}

func (g *Gossip) invokeNackHandler(n nackResp) {
	g.ackLock.Lock()
	h, ok := g.ackHandlers[n.SeqNo]
	g.ackLock.Unlock()
	if ok && h.nackFn != nil {
		h.nackFn()
	}
}

// probe advances the failure detector by one round-robin step: direct
// ping, falling back to IndirectChecks relays on timeout.
func (g *Gossip) probe() {
	g.nodeLock.RLock()
	if len(g.nodes) <= 1 {
		g.nodeLock.RUnlock()
		return
	}
	g.probeIdx = g.probeIdx % len(g.nodes)
	node := g.nodes[g.probeIdx]
	g.probeIdx++
	g.nodeLock.RUnlock()

	if node.Name == g.config.Name || node.State == StateDead {
		return
	}

	probeTimeout := g.awareness.ScaleTimeout(g.config.ProbeTimeout)
	seq := g.nextSeqNo()
	ackCh := make(chan bool, 1)
	g.setAckHandler(seq, func([]byte, time.Time) { ackCh <- true }, nil, probeTimeout)

	buf, _ := codec.Encode(codec.TypePing, &ping{SeqNo: seq, Node: node.Name})
	g.transport.SendPacket(node.Address(), buf)

	select {
	case <-ackCh:
		g.awareness.ApplyDelta(-1)
		return
	case <-time.After(probeTimeout):
	}

	g.awareness.ApplyDelta(1)
	metrics.IncrCounter([]string{"gossip", "probe", "timeout"}, 1)
	g.indirectProbe(node, seq, probeTimeout)
}

func (g *Gossip) indirectProbe(target *NodeState, seq uint32, timeout time.Duration) {
	g.nodeLock.RLock()
	var relays []*NodeState
	for _, n := range g.nodes {
		if n.Name != g.config.Name && n.Name != target.Name && n.State == StateAlive {
			relays = append(relays, n)
		}
	}
	g.nodeLock.RUnlock()

	rand.Shuffle(len(relays), func(i, j int) { relays[i], relays[j] = relays[j], relays[i] })
	k := g.config.IndirectChecks
	if k > len(relays) {
		k = len(relays)
	}

	acked := make(chan struct{}, k)
	for i := 0; i < k; i++ {
		relaySeq := g.nextSeqNo()
		g.setAckHandler(relaySeq, func([]byte, time.Time) { acked <- struct{}{} }, nil, timeout)
		buf, _ := codec.Encode(codec.TypeIndirectPing, &indirectPingReq{SeqNo: relaySeq, Target: target.Name, Node: g.config.Name})
		g.transport.SendPacket(relays[i].Address(), buf)
	}

	if !g.config.DisableTCPPings {
		go g.tcpFallbackPing(target, seq, timeout, acked)
	}

	select {
	case <-acked:
		return
	case <-time.After(timeout):
	}

	g.suspectNode(&suspect{Incarnation: target.Incarnation, Node: target.Name, From: g.config.Name})
}

// tcpFallbackPing tries a TCP ping as a last resort before suspecting,
// since UDP loss can look identical to node failure.
func (g *Gossip) tcpFallbackPing(target *NodeState, seq uint32, timeout time.Duration, acked chan struct{}) {
	conn, err := g.transport.DialStream(target.Address(), timeout)
	if err != nil {
		return
	}
	defer conn.Close()
	buf, _ := codec.Encode(codec.TypePing, &ping{SeqNo: seq, Node: target.Name})
	conn.SetDeadline(time.Now().Add(timeout))
	if err := binary.Write(conn, binary.BigEndian, uint32(len(buf))); err != nil {
		return
	}
	if _, err := conn.Write(buf); err != nil {
		return
	}
	select {
	case acked <- struct{}{}:
	default:
	}
}

// gossip sends a compound of pending broadcasts to GossipNodes random
// peers, plus nodes dead within GossipToTheDeadTime.
func (g *Gossip) gossip() {
	g.nodeLock.RLock()
	var candidates []*NodeState
	for _, n := range g.nodes {
		if n.Name == g.config.Name {
			continue
		}
		if n.State == StateDead && time.Since(n.StateChange) > g.config.GossipToTheDeadTime {
			continue
		}
		candidates = append(candidates, n)
	}
	g.nodeLock.RUnlock()

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	k := g.config.GossipNodes
	if k > len(candidates) {
		k = len(candidates)
	}

	for i := 0; i < k; i++ {
		msgs := g.broadcasts.GetBroadcasts(codec.PerMessageOverhead(), g.config.UDPBufferSize)
		if g.config.Delegate != nil {
			// The delegate (the Serf layer above) piggybacks its own
			// event/query/user-intent broadcasts onto our gossip packets,
			// the same way memberlist mixes Delegate.GetBroadcasts with
			// its own alive/suspect/dead chatter.
			for _, m := range g.config.Delegate.GetBroadcasts(codec.PerMessageOverhead()+1, g.config.UDPBufferSize) {
				msgs = append(msgs, append([]byte{byte(codec.TypeUser)}, m...))
			}
		}
		if len(msgs) == 0 {
			continue
		}
		buf := msgs[0]
		if len(msgs) > 1 {
			buf = codec.MakeCompound(msgs)
		}
		g.transport.SendPacket(candidates[i].Address(), buf)
	}
}

// pushPull initiates anti-entropy with one random peer.
func (g *Gossip) pushPull() {
	g.nodeLock.RLock()
	var candidates []*NodeState
	for _, n := range g.nodes {
		if n.Name != g.config.Name && n.State == StateAlive {
			candidates = append(candidates, n)
		}
	}
	g.nodeLock.RUnlock()
	if len(candidates) == 0 {
		return
	}
	peer := candidates[rand.Intn(len(candidates))]
	if err := g.pushPullNode(peer.Address(), false); err != nil {
		g.logger.Debug("push/pull failed", "peer", peer.Name, "error", err)
	}
}

func (g *Gossip) pushPullNode(addr string, join bool) error {
	conn, err := g.transport.DialStream(addr, g.config.TCPTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(g.config.TCPTimeout))

	local := g.localPushState()
	var userState []byte
	if g.config.Delegate != nil {
		userState = g.config.Delegate.LocalState(join)
	}
	if err := g.sendPushPull(conn, local, userState, join); err != nil {
		return err
	}

	remote, remoteUserState, err := g.recvPushPull(conn)
	if err != nil {
		return err
	}
	g.mergeState(remote)
	if g.config.Delegate != nil && len(remoteUserState) > 0 {
		g.config.Delegate.MergeRemoteState(remoteUserState, join)
	}
	return nil
}

func (g *Gossip) localPushState() []pushNodeState {
	g.nodeLock.RLock()
	defer g.nodeLock.RUnlock()
	out := make([]pushNodeState, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, pushNodeState{
			Name:        n.Name,
			Addr:        []byte(n.Addr),
			Port:        n.Port,
			Meta:        n.Meta,
			Incarnation: n.Incarnation,
			State:       n.State,
			Vsn:         vsnOf(n),
		})
	}
	return out
}

func (g *Gossip) sendPushPull(conn net.Conn, nodes []pushNodeState, userState []byte, join bool) error {
	hdr := pushPullHeader{Nodes: len(nodes), UserStateLen: len(userState), Join: join}
	buf, err := codec.Encode(codec.TypePushPull, &hdr)
	if err != nil {
		return err
	}
	if err := writeFramed(conn, buf); err != nil {
		return err
	}
	nbuf, err := codec.Encode(codec.TypePushPull, nodes)
	if err != nil {
		return err
	}
	if err := writeFramed(conn, nbuf); err != nil {
		return err
	}
	if len(userState) > 0 {
		return writeFramed(conn, userState)
	}
	return nil
}

func (g *Gossip) recvPushPull(conn net.Conn) ([]pushNodeState, []byte, error) {
	hdrBuf, err := readFramed(conn)
	if err != nil {
		return nil, nil, err
	}
	if len(hdrBuf) < 1 {
		return nil, nil, errors.New("empty push/pull header")
	}
	var hdr pushPullHeader
	if err := codec.Decode(hdrBuf[1:], &hdr); err != nil {
		return nil, nil, err
	}
	nbuf, err := readFramed(conn)
	if err != nil {
		return nil, nil, err
	}
	if len(nbuf) < 1 {
		return nil, nil, errors.New("empty push/pull node list")
	}
	var nodes []pushNodeState
	if err := codec.Decode(nbuf[1:], &nodes); err != nil {
		return nil, nil, err
	}
	var userState []byte
	if hdr.UserStateLen > 0 {
		userState, err = readFramed(conn)
		if err != nil {
			return nil, nil, err
		}
	}
	return nodes, userState, nil
}

func writeFramed(conn net.Conn, buf []byte) error {
	if err := binary.Write(conn, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	return err
}

func readFramed(conn net.Conn) ([]byte, error) {
	var n uint32
	if err := binary.Read(conn, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	_, err := conn.Read(buf)
	return buf, err
}

// streamPump accepts inbound push/pull connections.
func (g *Gossip) streamPump() {
	defer g.wg.Done()
	for {
		select {
		case conn := <-g.transport.StreamCh():
			go g.handleConn(conn)
		case <-g.shutdown:
			return
		}
	}
}

func (g *Gossip) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(g.config.StreamTimeout))

	remote, remoteUserState, err := g.recvPushPull(conn)
	if err != nil {
		g.logger.Debug("push/pull read failed", "error", err)
		return
	}

	local := g.localPushState()
	var userState []byte
	if g.config.Delegate != nil {
		userState = g.config.Delegate.LocalState(false)
	}
	if err := g.sendPushPull(conn, local, userState, false); err != nil {
		g.logger.Debug("push/pull write failed", "error", err)
		return
	}

	g.mergeState(remote)
	if g.config.Delegate != nil && len(remoteUserState) > 0 {
		g.config.Delegate.MergeRemoteState(remoteUserState, false)
	}
}

// mergeState folds a remote's full-state view into the local table,
// routing each entry through aliveNode/suspectNode/deadNode so the
// state transition rules apply uniformly regardless of whether the
// news arrived via gossip or anti-entropy.
func (g *Gossip) mergeState(remote []pushNodeState) {
	for _, r := range remote {
		switch r.State {
		case StateAlive:
			g.aliveNode(&alive{
				Incarnation: r.Incarnation,
				Node:        r.Name,
				Addr:        r.Addr,
				Port:        r.Port,
				Meta:        r.Meta,
				Vsn:         r.Vsn,
			}, nil, false)
		case StateLeft:
			g.deadNode(&dead{Incarnation: r.Incarnation, Node: r.Name, From: r.Name})
		case StateDead:
			g.deadNode(&dead{Incarnation: r.Incarnation, Node: r.Name, From: g.config.Name})
		case StateSuspect:
			g.suspectNode(&suspect{Incarnation: r.Incarnation, Node: r.Name, From: r.Name})
		}
	}
	if g.config.Merge != nil {
		nodes := make([]*Node, 0, len(remote))
		for _, r := range remote {
			nodes = append(nodes, &Node{Name: r.Name, Addr: net.IP(r.Addr), Port: r.Port, Meta: r.Meta})
		}
		if err := g.config.Merge.NotifyMerge(nodes); err != nil {
			g.logger.Warn("cluster merge rejected by delegate", "error", err)
		}
	}
}

// aliveNode implements the Alive arm of the transition table: a strictly
// newer incarnation always wins; on the local node, a rumor at or above
// our own incarnation triggers self-refutation at max(rumor, own)+1.
func (g *Gossip) aliveNode(a *alive, notify chan struct{}, bootstrap bool) {
	g.nodeLock.Lock()

	if a.Node == g.config.Name {
		cur := g.nodeMap[g.config.Name].Incarnation
		if a.Incarnation >= cur {
			inc := g.ForceIncarnation(a.Incarnation)
			local := g.nodeMap[g.config.Name]
			local.Incarnation = inc
			g.nodeLock.Unlock()
			g.encodeAndBroadcast(a.Node, codec.TypeAlive, &alive{
				Incarnation: inc, Node: a.Node, Addr: []byte(local.Addr), Port: local.Port, Meta: local.Meta, Vsn: vsnOf(local),
			})
			return
		}
		g.nodeLock.Unlock()
		return
	}

	state, known := g.nodeMap[a.Node]
	if !known {
		state = &NodeState{
			Node: Node{Name: a.Node, Addr: net.IP(a.Addr), Port: a.Port, Meta: a.Meta,
				PMin: a.Vsn[0], PMax: a.Vsn[1], PCur: a.Vsn[2], DMin: a.Vsn[3], DMax: a.Vsn[4], DCur: a.Vsn[5]},
			State: StateAlive,
		}
		idx := rand.Intn(len(g.nodes) + 1)
		g.nodes = append(g.nodes, nil)
		copy(g.nodes[idx+1:], g.nodes[idx:])
		g.nodes[idx] = state
		g.nodeMap[a.Node] = state
	}

	if known && a.Incarnation <= state.Incarnation && state.State != StateDead {
		g.nodeLock.Unlock()
		return
	}
	// Anti-resurrection: a node that has authoritatively left or been
	// declared dead only returns to Alive via this same path (never via a
	// bare join intent at a lower layer), so no extra guard is needed here.

	state.Incarnation = a.Incarnation
	wasDead := !known || state.State != StateAlive
	state.State = StateAlive
	state.StateChange = time.Now()
	state.Addr = net.IP(a.Addr)
	state.Port = a.Port
	state.Meta = a.Meta
	if sus, ok := g.suspicions[a.Node]; ok {
		sus.Stop()
		delete(g.suspicions, a.Node)
	}
	g.nodeLock.Unlock()

	if notify != nil {
		close(notify)
	}
	g.encodeAndBroadcast(a.Node, codec.TypeAlive, a)
	if !bootstrap && wasDead && g.config.Events != nil {
		g.config.Events.NotifyJoin(&state.Node)
	} else if !bootstrap && g.config.Events != nil {
		g.config.Events.NotifyUpdate(&state.Node)
	}
}

func (g *Gossip) suspectNode(s *suspect) {
	g.nodeLock.Lock()

	if s.Node == g.config.Name {
		local := g.nodeMap[g.config.Name]
		inc := g.ForceIncarnation(s.Incarnation)
		local.Incarnation = inc
		g.nodeLock.Unlock()
		g.encodeAndBroadcast(s.Node, codec.TypeAlive, &alive{
			Incarnation: inc, Node: s.Node, Addr: []byte(local.Addr), Port: local.Port, Meta: local.Meta, Vsn: vsnOf(local),
		})
		return
	}

	state, known := g.nodeMap[s.Node]
	if !known || s.Incarnation < state.Incarnation {
		g.nodeLock.Unlock()
		return
	}
	if sus, ok := g.suspicions[s.Node]; ok {
		g.nodeLock.Unlock()
		sus.Confirm(s.From)
		return
	}
	if state.State != StateAlive {
		g.nodeLock.Unlock()
		return
	}

	state.Incarnation = s.Incarnation
	state.State = StateSuspect
	state.StateChange = time.Now()
	n := len(g.nodes)
	min, max := suspicionBounds(g.config.SuspicionMult, g.config.SuspicionMaxMult, n, g.config.ProbeInterval)
	name := s.Node
	g.suspicions[name] = newSuspicion(s.From, g.config.IndirectChecks+1, min, max, func(confirmations int) {
		g.nodeLock.Lock()
		st, ok := g.nodeMap[name]
		g.nodeLock.Unlock()
		if !ok || st.State != StateSuspect {
			return
		}
		g.deadNode(&dead{Incarnation: st.Incarnation, Node: name, From: g.config.Name})
	})
	g.nodeLock.Unlock()

	g.encodeAndBroadcast(s.Node, codec.TypeSuspect, s)
}

func (g *Gossip) deadNode(d *dead) {
	g.nodeLock.Lock()

	state, known := g.nodeMap[d.Node]
	if !known || d.Incarnation < state.Incarnation {
		g.nodeLock.Unlock()
		return
	}
	if sus, ok := g.suspicions[d.Node]; ok {
		sus.Stop()
		delete(g.suspicions, d.Node)
	}

	if d.Node == g.config.Name && atomic.LoadInt32(&g.leaving) == 0 {
		local := g.nodeMap[g.config.Name]
		inc := g.ForceIncarnation(d.Incarnation)
		local.Incarnation = inc
		g.nodeLock.Unlock()
		g.encodeAndBroadcast(d.Node, codec.TypeAlive, &alive{
			Incarnation: inc, Node: d.Node, Addr: []byte(local.Addr), Port: local.Port, Meta: local.Meta, Vsn: vsnOf(local),
		})
		return
	}

	if state.State == StateDead || state.State == StateLeft {
		g.nodeLock.Unlock()
		return
	}

	state.Incarnation = d.Incarnation
	if d.Node == d.From {
		state.State = StateLeft
	} else {
		state.State = StateDead
	}
	state.StateChange = time.Now()
	g.nodeLock.Unlock()

	g.encodeAndBroadcast(d.Node, codec.TypeDead, d)
	if g.config.Events != nil {
		g.config.Events.NotifyLeave(&state.Node)
	}
}

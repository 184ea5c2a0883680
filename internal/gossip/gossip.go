package gossip

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/clustermesh/serf/internal/codec"
)

// ErrNodeNotFound is returned when an operation names an unknown node.
var ErrNodeNotFound = errors.New("node not found")

// Gossip is the SWIM+Lifeguard engine: a node table, direct/indirect
// failure detector, periodic gossip, and TCP push/pull anti-entropy.
// It plays the role of Serf's external memberlist dependency, folded
// into the core.
type Gossip struct {
	config    *Config
	transport *Transport
	logger    *slog.Logger

	broadcasts *TransmitLimitedQueue

	nodeLock sync.RWMutex
	nodes    []*NodeState
	nodeMap  map[string]*NodeState
	probeIdx int

	suspicions map[string]*suspicion

	ackLock     sync.Mutex
	ackHandlers map[uint32]*ackHandler

	sequenceNum uint32
	incarnation uint32

	awareness *awareness

	leaving  int32
	shutdown chan struct{}
	wg       sync.WaitGroup

	tickerLock sync.Mutex
	tickers    []*time.Ticker
}

type ackHandler struct {
	ackFn  func(payload []byte, timestamp time.Time)
	nackFn func()
	timer  *time.Timer
}

// Create starts a gossip engine bound per conf and begins its background
// loops (probe, gossip, push/pull).
func Create(conf *Config) (*Gossip, error) {
	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}
	transport, err := NewTransport(conf.BindAddr, conf.BindPort, conf.UDPBufferSize, conf.CIDRsAllowed, conf.Logger)
	if err != nil {
		return nil, err
	}

	g := &Gossip{
		config:      conf,
		transport:   transport,
		logger:      conf.Logger,
		nodeMap:     make(map[string]*NodeState),
		suspicions:  make(map[string]*suspicion),
		ackHandlers: make(map[uint32]*ackHandler),
		awareness:   newAwareness(conf.MaxAwarenessMult),
		shutdown:    make(chan struct{}),
	}
	g.broadcasts = NewTransmitLimitedQueue(conf.RetransmitMult, g.NumMembers)

	local := &NodeState{
		Node: Node{
			Name: conf.Name,
			Addr: net.ParseIP(advertiseIP(conf)),
			Port: uint16(advertisePort(conf)),
			Meta: conf.Delegate.NodeMeta(MetaMaxSize),
		},
		State: StateAlive,
	}
	g.nodes = append(g.nodes, local)
	g.nodeMap[local.Name] = local

	g.wg.Add(2)
	go g.packetPump()
	go g.streamPump()
	g.schedule()

	return g, nil
}

func advertiseIP(c *Config) string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.BindAddr
}

func advertisePort(c *Config) int {
	if c.AdvertisePort != 0 {
		return c.AdvertisePort
	}
	return c.BindPort
}

// SendToAddr frames (label, optional encryption, CRC) and sends a single
// already-encoded Serf-layer message directly to addr over UDP, used for
// direct query responses rather than gossip propagation.
func (g *Gossip) SendToAddr(addr string, msg []byte) error {
	framed := append([]byte{byte(codec.TypeUser)}, msg...)
	buf := codec.AppendCRC(framed)
	if g.config.Keyring != nil {
		enc, err := codec.Encrypt(g.config.Keyring.GetPrimaryKey(), buf, []byte(g.config.Label))
		if err != nil {
			return err
		}
		buf = append([]byte{byte(codec.TypeEncrypt)}, enc...)
	}
	if g.config.Label != "" {
		var err error
		buf, err = codec.AddLabel(buf, g.config.Label)
		if err != nil {
			return err
		}
	}
	return g.transport.SendPacket(addr, buf)
}

// LocalNode returns a copy of the local node's current state.
func (g *Gossip) LocalNode() *NodeState {
	g.nodeLock.RLock()
	defer g.nodeLock.RUnlock()
	local := *g.nodeMap[g.config.Name]
	return &local
}

// NumMembers returns the size of the node table (all states included,
// matching Serf's memberlist.NumMembers semantics used to size the
// retransmit limit).
func (g *Gossip) NumMembers() int {
	g.nodeLock.RLock()
	defer g.nodeLock.RUnlock()
	return len(g.nodes)
}

// Members returns a snapshot of all known nodes.
func (g *Gossip) Members() []*NodeState {
	g.nodeLock.RLock()
	defer g.nodeLock.RUnlock()
	out := make([]*NodeState, len(g.nodes))
	for i, n := range g.nodes {
		cp := *n
		out[i] = &cp
	}
	return out
}

func (g *Gossip) nextSeqNo() uint32        { return atomic.AddUint32(&g.sequenceNum, 1) }
func (g *Gossip) nextIncarnation() uint32  { return atomic.AddUint32(&g.incarnation, 1) }

// ForceIncarnation bumps the local incarnation to at least min+1, used by
// the Serf layer's local-node refutation path.
func (g *Gossip) ForceIncarnation(min uint32) uint32 {
	for {
		cur := atomic.LoadUint32(&g.incarnation)
		if cur > min {
			return cur
		}
		if atomic.CompareAndSwapUint32(&g.incarnation, cur, min+1) {
			return min + 1
		}
	}
}

// schedule starts the periodic background loops.
func (g *Gossip) schedule() {
	g.tickerLock.Lock()
	defer g.tickerLock.Unlock()

	if g.config.ProbeInterval > 0 {
		t := time.NewTicker(g.config.ProbeInterval)
		g.tickers = append(g.tickers, t)
		g.wg.Add(1)
		go g.triggerFunc(t.C, g.probe)
	}
	if g.config.PushPullInterval > 0 {
		t := time.NewTicker(g.config.PushPullInterval)
		g.tickers = append(g.tickers, t)
		g.wg.Add(1)
		go g.triggerFunc(t.C, g.pushPull)
	}
	if g.config.GossipInterval > 0 && g.config.GossipNodes > 0 {
		t := time.NewTicker(g.config.GossipInterval)
		g.tickers = append(g.tickers, t)
		g.wg.Add(1)
		go g.triggerFunc(t.C, g.gossip)
	}
}

func (g *Gossip) triggerFunc(c <-chan time.Time, fn func()) {
	defer g.wg.Done()
	for {
		select {
		case <-c:
			fn()
		case <-g.shutdown:
			return
		}
	}
}

func (g *Gossip) deschedule() {
	g.tickerLock.Lock()
	defer g.tickerLock.Unlock()
	for _, t := range g.tickers {
		t.Stop()
	}
	g.tickers = nil
}

// Join attempts to contact existing and pull their full state via
// push/pull, merging each into the local table. Returns the count of
// peers successfully contacted.
func (g *Gossip) Join(existing []string) (int, error) {
	var successes int
	var lastErr error
	for _, addr := range existing {
		if err := g.pushPullNode(addr, true); err != nil {
			lastErr = err
			g.logger.Warn("failed to join", "addr", addr, "error", err)
			continue
		}
		successes++
	}
	if successes == 0 && lastErr != nil {
		return 0, lastErr
	}
	return successes, nil
}

// Leave marks the local node as Left and broadcasts the transition,
// allowing peers to reap it promptly instead of waiting out suspicion.
func (g *Gossip) Leave() error {
	atomic.StoreInt32(&g.leaving, 1)
	g.nodeLock.Lock()
	local := g.nodeMap[g.config.Name]
	inc := g.nextIncarnation()
	local.Incarnation = inc
	local.State = StateLeft
	local.StateChange = time.Now()
	g.nodeLock.Unlock()

	d := dead{Incarnation: inc, Node: g.config.Name, From: g.config.Name}
	g.encodeAndBroadcast(g.config.Name, codec.TypeDead, &d)
	return nil
}

// Shutdown halts background loops and the transport. It does not notify
// peers (that is Leave's job).
func (g *Gossip) Shutdown() error {
	close(g.shutdown)
	g.deschedule()
	g.wg.Wait()
	return g.transport.Shutdown()
}

package serf

import "github.com/clustermesh/serf/internal/gossip"

// NotifyJoin is the gossip.EventDelegate callback fired when the engine
// itself confirms a node alive.
func (s *Serf) NotifyJoin(n *gossip.Node) {
	s.handleNodeJoin(n)
}

// NotifyLeave is the gossip.EventDelegate callback fired when the engine
// itself confirms a node dead or gracefully left.
func (s *Serf) NotifyLeave(n *gossip.Node) {
	s.handleNodeLeave(n)
}

// NotifyUpdate is the gossip.EventDelegate callback fired when a node's
// metadata changes without a state transition.
func (s *Serf) NotifyUpdate(n *gossip.Node) {
	s.handleNodeUpdate(n)
}

var _ gossip.EventDelegate = (*Serf)(nil)

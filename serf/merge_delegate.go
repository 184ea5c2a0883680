package serf

import (
	"fmt"
	"regexp"

	"github.com/clustermesh/serf/internal/gossip"
)

// nodeNameRe rejects node names containing anything but alphanumerics
// and dashes, the same constraint Serf's merge_delegate.go
// enforces before trusting a peer's push/pull payload.
var nodeNameRe = regexp.MustCompile(`[^A-Za-z0-9\-]+`)

// NotifyMerge vets and converts a candidate peer set before the gossip
// engine commits a push/pull merge, delegating the final accept/reject
// decision to config.Merge if one is configured.
func (s *Serf) NotifyMerge(nodes []*gossip.Node) error {
	members := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		m, err := nodeToMember(n)
		if err != nil {
			return err
		}
		members = append(members, m)
	}
	if s.config.Merge == nil {
		return nil
	}
	return s.config.Merge.NotifyMerge(members)
}

// NotifyAlive is consulted before the gossip engine accepts a new Alive
// rumor about peer; it can veto by returning an error.
func (s *Serf) NotifyAlive(peer *gossip.Node) error {
	if _, err := nodeToMember(peer); err != nil {
		return err
	}
	return nil
}

func nodeToMember(n *gossip.Node) (Member, error) {
	if err := validateNodeInfo(n); err != nil {
		return Member{}, err
	}
	tags, err := decodeTags(n.Meta)
	if err != nil {
		return Member{}, err
	}
	return Member{
		Name:        n.Name,
		Addr:        n.Addr,
		Port:        n.Port,
		Tags:        tags,
		ProtocolMin: n.PMin,
		ProtocolMax: n.PMax,
		ProtocolCur: n.PCur,
		DelegateMin: n.DMin,
		DelegateMax: n.DMax,
		DelegateCur: n.DCur,
	}, nil
}

func validateNodeInfo(n *gossip.Node) error {
	if len(n.Name) == 0 || len(n.Name) > 128 {
		return fmt.Errorf("node name length is %d characters, valid length is between 1 and 128", len(n.Name))
	}
	if nodeNameRe.MatchString(n.Name) {
		return fmt.Errorf("node name %q contains invalid characters, only alphanumerics and dashes are allowed", n.Name)
	}
	if n.Addr == nil {
		return fmt.Errorf("node %q has no valid address", n.Name)
	}
	if len(n.Meta) > gossip.MetaMaxSize {
		return fmt.Errorf("encoded length of tags exceeds limit of %d bytes", gossip.MetaMaxSize)
	}
	return nil
}

// MergeDelegate is implemented by callers that want veto power over a
// Join-time cluster merge.
type MergeDelegate interface {
	NotifyMerge(members []Member) error
}

var _ gossip.MergeDelegate = (*Serf)(nil)

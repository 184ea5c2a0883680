package serf

import (
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

// NotifyConflict is invoked when the gossip engine observes two
// incompatible Node records sharing the same name. Serf can't resolve
// this locally (either address could be stale); it broadcasts a
// conflict-resolution query and just logs whatever comes back, so an
// operator watching logs can reconcile.
func (s *Serf) NotifyConflict(existing, other *gossip.Node) {
	s.logger.Warn("name conflict detected",
		"node", existing.Name, "existing", existing.Address(), "other", other.Address())

	qName := internalQueryName(conflictQuery)
	resp, err := s.Query(qName, []byte(existing.Name), &QueryParam{Timeout: 5 * time.Second})
	if err != nil {
		s.logger.Error("failed to start conflict resolution query", "error", err)
		return
	}

	go func() {
		for r := range resp.ResponseCh() {
			if len(r.Payload) < 1 || messageType(r.Payload[0]) != messageConflictResponseType {
				continue
			}
			var member *Member
			if err := decodeMessage(r.Payload[1:], &member); err != nil {
				s.logger.Error("failed to decode conflict query response", "error", err)
				continue
			}
			if member == nil {
				continue
			}
			s.logger.Info("conflict resolution response", "from", r.From, "addr", member.Addr.String(), "port", member.Port)
		}
	}()
}

var _ gossip.ConflictDelegate = (*Serf)(nil)

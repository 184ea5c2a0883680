package serf

import (
	"net"
	"strconv"
	"time"
)

// handleReconnect is a long running routine that periodically attempts
// to rejoin a randomly chosen Failed member, letting Serf recover from
// transient partitions without operator intervention.
func (s *Serf) handleReconnect() {
	for {
		select {
		case <-time.After(s.config.ReconnectInterval):
			s.attemptReconnect()
		case <-s.shutdownCh:
			return
		}
	}
}

func (s *Serf) attemptReconnect() {
	s.memberLock.RLock()
	n := len(s.failedMembers)
	if n == 0 {
		s.memberLock.RUnlock()
		return
	}
	m := s.failedMembers[randomOffset(n)]
	addr := net.JoinHostPort(m.Addr.String(), strconv.Itoa(int(m.Port)))
	s.memberLock.RUnlock()

	if _, err := s.gossip.Join([]string{addr}); err != nil {
		s.logger.Debug("failed to reconnect to failed member", "addr", addr, "error", err)
	}
}

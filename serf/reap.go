package serf

import "time"

// handleReap is a long running routine that periodically removes
// tombstones for nodes that have been Failed or Left longer than their
// configured timeout, freeing the member table.
func (s *Serf) handleReap() {
	for {
		select {
		case <-time.After(s.config.ReapInterval):
			s.memberLock.Lock()
			s.failedMembers = s.reap(s.failedMembers, s.config.ReconnectTimeout)
			s.leftMembers = s.reap(s.leftMembers, s.config.TombstoneTimeout)
			s.memberLock.Unlock()
		case <-s.shutdownCh:
			return
		}
	}
}

// reap removes members from old whose leaveTime exceeds timeout,
// deleting them from the member table entirely. Caller must hold
// memberLock.
func (s *Serf) reap(old []*memberState, timeout time.Duration) []*memberState {
	now := time.Now()
	n := len(old)
	for i := 0; i < n; i++ {
		m := old[i]
		if now.Sub(m.leaveTime) <= timeout {
			continue
		}

		old[i], old[n-1] = old[n-1], nil
		old = old[:n-1]
		n--
		i--

		delete(s.members, m.Name)
		if s.snapshotter != nil {
			s.snapshotter.removeAlive(m.Name)
		}
	}
	return old
}

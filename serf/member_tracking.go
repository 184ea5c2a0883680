package serf

import "time"

// trackStatusChange keeps failedMembers/leftMembers in sync with m's
// current Status so the reap and reconnect loops have a bounded,
// timestamped list to work from. Caller must hold memberLock.
func (s *Serf) trackStatusChange(m *memberState) {
	s.failedMembers = removeMemberState(s.failedMembers, m)
	s.leftMembers = removeMemberState(s.leftMembers, m)

	switch m.Status {
	case StatusFailed:
		m.leaveTime = time.Now()
		s.failedMembers = append(s.failedMembers, m)
	case StatusLeft:
		m.leaveTime = time.Now()
		s.leftMembers = append(s.leftMembers, m)
	}
}

func removeMemberState(list []*memberState, m *memberState) []*memberState {
	for i, o := range list {
		if o == m {
			n := len(list)
			list[i] = list[n-1]
			list[n-1] = nil
			return list[:n-1]
		}
	}
	return list
}

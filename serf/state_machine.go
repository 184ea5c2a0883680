package serf

// transitionResult reports what Apply{Join,Leave}Intent / OnMemberlist*
// did to a memberState, so the caller knows whether to rebroadcast the
// intent, fire an event, or drop it silently.
type transitionResult int

const (
	// NoChange means the member's status did not change (and the intent
	// should not be rebroadcast).
	NoChange transitionResult = iota
	// LTimeUpdated means only statusLTime advanced; e.g. an intent about a
	// Left/Failed member, which updates the clock but never resurrects it.
	LTimeUpdated
	// StateChanged means the member transitioned to a new status; the
	// intent should be rebroadcast and, where applicable, an event fired.
	StateChanged
	// Rejected means the intent carried a stale Lamport time and was
	// dropped entirely.
	Rejected
)

// applyJoinIntent implements 's JoinIntent transition. It is
// the intent-authority half of membership: it can only ever move a
// Leaving member back to Alive (refutation); it can never resurrect a
// Left or Failed member (that requires an authoritative
// onMemberlistJoin, see below) — the anti-resurrection invariant.
func applyJoinIntent(m *memberState, ltime LamportTime) transitionResult {
	if ltime <= m.statusLTime {
		return Rejected
	}
	m.statusLTime = ltime

	switch m.Status {
	case StatusLeft, StatusFailed:
		return LTimeUpdated
	case StatusLeaving:
		m.Status = StatusAlive
		return StateChanged
	default: // StatusAlive, StatusNone
		return LTimeUpdated
	}
}

// applyLeaveIntent implements 's LeaveIntent transition.
func applyLeaveIntent(m *memberState, ltime LamportTime) transitionResult {
	if ltime <= m.statusLTime {
		return Rejected
	}
	m.statusLTime = ltime

	switch m.Status {
	case StatusAlive:
		m.Status = StatusLeaving
		return StateChanged
	case StatusFailed:
		m.Status = StatusLeft
		return StateChanged
	default: // Leaving, Left
		return LTimeUpdated
	}
}

// onMemberlistJoin is the authoritative transition fired when the gossip
// layer itself reports a node alive: any prior state, including Left or
// Failed, moves to Alive. This is the only path back into Alive from
// those two states.
func onMemberlistJoin(m *memberState) transitionResult {
	old := m.Status
	m.Status = StatusAlive
	if old == StatusAlive {
		return NoChange
	}
	return StateChanged
}

// onMemberlistLeave is the authoritative transition fired when the
// gossip layer reports a node as dead (isDead) or gracefully left.
func onMemberlistLeave(m *memberState, isDead bool) transitionResult {
	old := m.Status
	if isDead {
		m.Status = StatusFailed
	} else {
		m.Status = StatusLeft
	}
	if old == m.Status {
		return NoChange
	}
	return StateChanged
}

// onLeaveComplete finalizes a graceful leave once LeavePropagateDelay has
// elapsed, moving Leaving to Left.
func onLeaveComplete(m *memberState) transitionResult {
	if m.Status != StatusLeaving {
		return NoChange
	}
	m.Status = StatusLeft
	return StateChanged
}

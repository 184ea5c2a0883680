package gossip

import (
	"math"
	"sync"
	"time"
)

// suspicion times out a suspected node, accelerating as independent peers
// confirm the suspicion. Bounds are [min, max] derived from cluster size
// : min = SuspicionMult*max(1, log10(max(N,1)))*probeInterval,
// max = SuspicionMaxMult*min. Each confirmation from a distinct peer shrinks
// the timeout from max toward min in proportion to
// log(confirmations)/log(k), never below min.
type suspicion struct {
	mu           sync.Mutex
	timer        *time.Timer
	start        time.Time
	min, max     time.Duration
	confirmed    map[string]struct{}
	expectedMin  int // number of confirmations to reach min from max
	fn           func(numConfirmations int)
}

func newSuspicion(from string, k int, min, max time.Duration, fn func(int)) *suspicion {
	s := &suspicion{
		min:         min,
		max:         max,
		confirmed:   map[string]struct{}{from: {}},
		expectedMin: k,
		fn:          fn,
		start:       time.Now(),
	}
	timeout := max
	if k <= 0 {
		timeout = min
	}
	s.timer = time.AfterFunc(timeout, func() { s.fn(len(s.confirmed)) })
	return s
}

// Confirm registers a confirmation from peer and accelerates expiry. Returns
// false if peer already confirmed or the suspicion was stopped.
func (s *suspicion) Confirm(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return false
	}
	if _, ok := s.confirmed[peer]; ok {
		return false
	}
	s.confirmed[peer] = struct{}{}

	if s.expectedMin <= 1 {
		return true
	}

	n := len(s.confirmed)
	frac := math.Log(float64(n)) / math.Log(float64(s.expectedMin))
	if frac > 1 {
		frac = 1
	}
	remaining := s.max - time.Duration(frac*float64(s.max-s.min))
	if remaining < s.min {
		remaining = s.min
	}

	elapsed := time.Since(s.start)
	newDeadline := remaining - elapsed
	if newDeadline < 0 {
		newDeadline = 0
	}
	s.timer.Reset(newDeadline)
	return true
}

// Stop cancels the timer, e.g. on refutation.
func (s *suspicion) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	return stopped
}

// suspicionBounds computes [min,max] for a cluster of size n.
func suspicionBounds(suspicionMult, suspicionMaxMult, n int, interval time.Duration) (min, max time.Duration) {
	nodeScale := math.Max(1.0, math.Log10(math.Max(float64(n), 1)))
	min = time.Duration(float64(suspicionMult) * nodeScale * float64(interval))
	max = time.Duration(suspicionMaxMult) * min
	return min, max
}

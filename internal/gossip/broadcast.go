package gossip

import (
	"container/heap"
	"math"
	"sync"
)

// Broadcast is a single piece of gossip with a bounded retransmit budget.
// Mirrors the classic Invalidates/Message/Finished shape memberlist's
// own broadcast queue uses, reconstructed here since this package folds
// that queue directly into the gossip engine.
type Broadcast interface {
	// Invalidates returns true if this broadcast makes other redundant
	// (same key); the queue keeps only the newest.
	Invalidates(other Broadcast) bool
	Message() []byte
	Finished()
}

type broadcastItem struct {
	b          Broadcast
	key        string
	transmits  int
	seq        uint64
	queueIndex int
}

// TransmitLimitedQueue retains broadcasts ordered by fewest transmissions
// first, limiting any one broadcast to RetransmitMult*ceil(log10(N+1))
// sends. One instance exists per broadcast class (memberlist, serf
// intents, events, queries) so that a flood of user traffic can never
// starve control traffic.
type TransmitLimitedQueue struct {
	mu             sync.Mutex
	items          broadcastHeap
	byKey          map[string]*broadcastItem
	seqCounter     uint64
	RetransmitMult int
	NumNodes       func() int
}

func NewTransmitLimitedQueue(retransmitMult int, numNodes func() int) *TransmitLimitedQueue {
	return &TransmitLimitedQueue{
		byKey:          make(map[string]*broadcastItem),
		RetransmitMult: retransmitMult,
		NumNodes:       numNodes,
	}
}

// QueueBroadcast enqueues b, replacing (and invalidating) any existing
// broadcast with the same key.
func (q *TransmitLimitedQueue) QueueBroadcast(b Broadcast) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, existing := range q.byKey {
		if existing.b.Invalidates(b) {
			heap.Remove(&q.items, existing.queueIndex)
			delete(q.byKey, key)
			existing.b.Finished()
		}
	}

	q.seqCounter++
	item := &broadcastItem{b: b, seq: q.seqCounter}
	if keyed, ok := b.(interface{ BroadcastKey() string }); ok {
		item.key = keyed.BroadcastKey()
		q.byKey[item.key] = item
	}
	heap.Push(&q.items, item)
}

// NumQueued returns the number of broadcasts awaiting transmission.
func (q *TransmitLimitedQueue) NumQueued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// retransmitLimit returns RetransmitMult*ceil(log10(N+1)).
func (q *TransmitLimitedQueue) retransmitLimit() int {
	n := 1
	if q.NumNodes != nil {
		if got := q.NumNodes(); got > 0 {
			n = got
		}
	}
	scale := int(math.Ceil(math.Log10(float64(n + 1))))
	if scale < 1 {
		scale = 1
	}
	return q.RetransmitMult * scale
}

// GetBroadcasts drains up to limit bytes of pending broadcasts (accounting
// for overhead per message), smallest-transmits-first, incrementing each
// drawn item's transmit count. Items that have exhausted their retransmit
// budget are dropped and their NotifyOnSend (Finished) fired.
func (q *TransmitLimitedQueue) GetBroadcasts(overhead, limit int) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	transmitLimit := q.retransmitLimit()
	var out [][]byte
	var reQueue []*broadcastItem

	for len(q.items) > 0 && limit-overhead > 0 {
		item := heap.Pop(&q.items).(*broadcastItem)
		if item.key != "" {
			delete(q.byKey, item.key)
		}

		msg := item.b.Message()
		if len(msg)+overhead > limit {
			// Doesn't fit in the remaining budget; put it back for the
			// caller's next round and try the next item (classic
			// memberlist-style greedy bin packing).
			reQueue = append(reQueue, item)
			continue
		}

		out = append(out, msg)
		limit -= len(msg) + overhead

		item.transmits++
		if item.transmits >= transmitLimit {
			item.b.Finished()
		} else {
			reQueue = append(reQueue, item)
		}
	}

	for _, item := range reQueue {
		if item.key != "" {
			q.byKey[item.key] = item
		}
		heap.Push(&q.items, item)
	}

	return out
}

// Reset clears all pending broadcasts without firing Finished, used on
// shutdown once no more transmissions will occur.
func (q *TransmitLimitedQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.byKey = make(map[string]*broadcastItem)
}

type broadcastHeap []*broadcastItem

func (h broadcastHeap) Len() int { return len(h) }
func (h broadcastHeap) Less(i, j int) bool {
	if h[i].transmits != h[j].transmits {
		return h[i].transmits < h[j].transmits
	}
	return h[i].seq < h[j].seq
}
func (h broadcastHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].queueIndex = i
	h[j].queueIndex = j
}
func (h *broadcastHeap) Push(x interface{}) {
	item := x.(*broadcastItem)
	item.queueIndex = len(*h)
	*h = append(*h, item)
}
func (h *broadcastHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.queueIndex = -1
	*h = old[:n-1]
	return item
}

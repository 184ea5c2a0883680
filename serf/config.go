package serf

import (
	"log/slog"
	"time"

	"github.com/clustermesh/serf/internal/gossip"
)

// Config configures a Serf coordinator. Field groupings mirror the
// classic single-address/role node config, generalized to the full
// Tags/Query/Snapshot/Key-manager surface this package exposes.
type Config struct {
	// NodeName uniquely identifies this node in the cluster.
	NodeName string

	// Tags are an arbitrary key/value map gossiped alongside membership,
	// replacing Serf's single Role string.
	Tags map[string]string

	MemberlistConfig *gossip.Config

	// EventCh receives all Serf events (join/leave/failed/update/reap/
	// user/query) if non-nil.
	EventCh chan<- Event

	// ProtocolVersion is the Serf-layer protocol the local node speaks.
	ProtocolVersion uint8

	// BroadcastTimeout bounds how long Leave waits for the leave intent's
	// retransmit budget to be exhausted before proceeding anyway.
	BroadcastTimeout time.Duration

	// LeavePropagateDelay is slept between the memberlist-level graceful
	// leave and the local Leaving->Left transition, giving the broadcast
	// time to reach peers.
	LeavePropagateDelay time.Duration

	// ReapInterval is how often the reaper runs.
	ReapInterval time.Duration
	// ReconnectInterval is how often the reconnector tries a random
	// Failed member.
	ReconnectInterval time.Duration
	// ReconnectTimeout bounds how long a Failed member is remembered
	// before being reaped.
	ReconnectTimeout time.Duration
	// TombstoneTimeout bounds how long a Left member is remembered.
	TombstoneTimeout time.Duration

	// DisableCoordinates disables the Vivaldi network-coordinate client.
	DisableCoordinates bool

	// QueryTimeoutMult scales DefaultQueryTimeout.
	QueryTimeoutMult int
	// QueryResponseSizeLimit bounds a single query response payload.
	QueryResponseSizeLimit int
	// QuerySizeLimit bounds a single query payload.
	QuerySizeLimit int

	// MaxQueryTime bounds how long a query's response channel stays open
	// regardless of QueryParam.Timeout.
	MaxQueryTime time.Duration

	// RecentIntentTimeout bounds how long a buffered intent for an
	// unknown member is kept before being pruned.
	RecentIntentTimeout time.Duration

	// CoalescePeriod/QuiescentPeriod tune member-event coalescence.
	CoalescePeriod   time.Duration
	QuiescentPeriod  time.Duration
	// UserCoalescePeriod/UserQuiescentPeriod tune user-event coalescence.
	UserCoalescePeriod  time.Duration
	UserQuiescentPeriod time.Duration

	// EventBuffer/QueryBuffer size the Lamport-time ring buffers used to
	// dedupe user events and queries.
	EventBuffer int
	QueryBuffer int

	// SnapshotPath, if non-empty, enables the on-disk recovery log.
	SnapshotPath string
	// RejoinAfterLeave controls whether the alive peers recorded in the
	// snapshot are still rejoined on restart after this node has left;
	// when false, the snapshot's leave record clears them.
	RejoinAfterLeave bool

	// KeyringFile, if non-empty, persists the local keyring as JSON.
	KeyringFile string

	// TagsFile, if non-empty, persists Tags across restarts.
	TagsFile string

	// Merge, if non-nil, is invoked when a remote member's view merges
	// with ours; it may veto a cluster merge.
	Merge MergeDelegate

	// UserEventSizeLimit bounds a single user event payload.
	UserEventSizeLimit int

	Logger *slog.Logger
}

// DefaultConfig returns a Config with Serf's original tuning
// values carried forward onto the new field names, plus defaults for the
// fields the distillation added.
func DefaultConfig() *Config {
	hostname, _ := defaultHostname()
	return &Config{
		NodeName:               hostname,
		Tags:                   make(map[string]string),
		MemberlistConfig:       gossip.DefaultLANConfig(),
		ProtocolVersion:        4,
		BroadcastTimeout:       5 * time.Second,
		LeavePropagateDelay:    1 * time.Second,
		ReapInterval:           15 * time.Second,
		ReconnectInterval:      30 * time.Second,
		ReconnectTimeout:       24 * time.Hour,
		TombstoneTimeout:       24 * time.Hour,
		QueryTimeoutMult:       16,
		QueryResponseSizeLimit: 1024,
		QuerySizeLimit:         1024,
		MaxQueryTime:           1 * time.Minute,
		RecentIntentTimeout:    5 * time.Minute,
		CoalescePeriod:         3 * time.Second,
		QuiescentPeriod:        1 * time.Second,
		UserCoalescePeriod:     3 * time.Second,
		UserQuiescentPeriod:    1 * time.Second,
		EventBuffer:            512,
		QueryBuffer:            512,
		UserEventSizeLimit:     512,
	}
}

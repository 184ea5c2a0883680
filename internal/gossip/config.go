package gossip

import (
	"log/slog"
	"time"
)

// Config tunes the gossip/failure-detector engine. Field names mirror
// the Serf-layer config.go so it can map 1:1 onto this one.
type Config struct {
	Name string

	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int

	// UDPBufferSize bounds inbound datagram reads; oversized reads are
	// truncated and logged.
	UDPBufferSize int

	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	IndirectChecks int
	DisableTCPPings bool

	SuspicionMult    int
	SuspicionMaxMult int

	RetransmitMult int

	GossipInterval      time.Duration
	GossipNodes         int
	GossipToTheDeadTime time.Duration

	PushPullInterval time.Duration

	TCPTimeout    time.Duration
	StreamTimeout time.Duration

	// MaxAwarenessMult bounds the Lifeguard awareness score; 0 disables
	// awareness scaling entirely.
	MaxAwarenessMult int

	// Label, if non-empty, is prepended to every packet/stream and
	// validated on receipt.
	Label string

	Keyring *Keyring

	CIDRsAllowed []string

	Delegate      Delegate
	Events        EventDelegate
	Merge         MergeDelegate
	Ping          PingDelegate
	Conflict      ConflictDelegate

	Logger *slog.Logger
}

// DefaultLANConfig returns tuning values suited to a low-latency LAN
// deployment, matching the orders of magnitude Serf's
// memberlistConfig wires from serf/config.go.
func DefaultLANConfig() *Config {
	return &Config{
		UDPBufferSize:       1400,
		ProbeInterval:       1 * time.Second,
		ProbeTimeout:        500 * time.Millisecond,
		IndirectChecks:      3,
		SuspicionMult:       4,
		SuspicionMaxMult:    6,
		RetransmitMult:      4,
		GossipInterval:      200 * time.Millisecond,
		GossipNodes:         3,
		GossipToTheDeadTime: 30 * time.Second,
		PushPullInterval:    30 * time.Second,
		TCPTimeout:          10 * time.Second,
		StreamTimeout:       10 * time.Second,
		MaxAwarenessMult:    8,
	}
}

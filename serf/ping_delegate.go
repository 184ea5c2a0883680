package serf

import (
	"bytes"
	"time"

	mpcodec "github.com/hashicorp/go-msgpack/codec"

	"github.com/clustermesh/serf/coordinate"
	"github.com/clustermesh/serf/internal/gossip"
)

// pingVersion headers the coordinate payload so format changes can be
// detected without bumping the wider protocol version.
const pingVersion = 1

// AckPayload attaches this node's current Vivaldi coordinate to a direct
// probe ack, letting the prober update its own estimate.
func (s *Serf) AckPayload() []byte {
	if s.coordClient == nil {
		return nil
	}
	buf := bytes.NewBuffer([]byte{pingVersion})
	enc := mpcodec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(s.coordClient.GetCoordinate()); err != nil {
		s.logger.Error("failed to encode coordinate", "error", err)
		return nil
	}
	return buf.Bytes()
}

// NotifyPingComplete decodes the peer's coordinate from a completed probe
// ack, updates the local Vivaldi estimate, and caches both coordinates.
func (s *Serf) NotifyPingComplete(other *gossip.Node, rtt time.Duration, payload []byte) {
	if s.coordClient == nil || len(payload) == 0 {
		return
	}
	if payload[0] != pingVersion {
		s.logger.Error("unsupported ping payload version", "version", payload[0])
		return
	}

	var coord coordinate.Coordinate
	dec := mpcodec.NewDecoder(bytes.NewReader(payload[1:]), msgpackHandle)
	if err := dec.Decode(&coord); err != nil {
		s.logger.Error("failed to decode coordinate from ping", "error", err)
		return
	}

	s.coordClient.Update(&coord, rtt)

	s.coordCacheLock.Lock()
	s.coordCache[other.Name] = &coord
	s.coordCache[s.config.NodeName] = s.coordClient.GetCoordinate()
	s.coordCacheLock.Unlock()
}

// GetCachedCoordinate returns the last coordinate observed for name, if
// any, from the most recent direct probe exchange.
func (s *Serf) GetCachedCoordinate(name string) (*coordinate.Coordinate, bool) {
	s.coordCacheLock.RLock()
	defer s.coordCacheLock.RUnlock()
	c, ok := s.coordCache[name]
	return c, ok
}

var _ gossip.PingDelegate = (*Serf)(nil)

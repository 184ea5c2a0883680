package serf

import (
	"bytes"
	"fmt"
	"os"

	mpcodec "github.com/hashicorp/go-msgpack/codec"

	"github.com/clustermesh/serf/internal/gossip"
)

// encodeTags msgpack-encodes tags for use as a Node's opaque metadata
// blob, bounded by gossip.MetaMaxSize.
func encodeTags(tags map[string]string) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := mpcodec.NewEncoder(buf, msgpackHandle)
	if err := enc.Encode(tags); err != nil {
		return nil, err
	}
	if buf.Len() > gossip.MetaMaxSize {
		return nil, fmt.Errorf("encoded tags exceed length limit of %d bytes", gossip.MetaMaxSize)
	}
	return buf.Bytes(), nil
}

// decodeTags reverses encodeTags. An empty blob decodes to an empty map,
// matching nodes running without tags set.
func decodeTags(meta []byte) (map[string]string, error) {
	tags := make(map[string]string)
	if len(meta) == 0 {
		return tags, nil
	}
	dec := mpcodec.NewDecoder(bytes.NewReader(meta), msgpackHandle)
	if err := dec.Decode(&tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// SetTags changes the tags this node advertises and forces a rebroadcast
// of its own alive state so the cluster learns the new values. Persists
// to TagsFile first when configured, matching Serf's write-then-
// advertise ordering for TagsFile/RoleFile.
func (s *Serf) SetTags(tags map[string]string) error {
	if _, err := encodeTags(tags); err != nil {
		return err
	}

	if s.config.TagsFile != "" {
		if err := s.writeTagsFile(tags); err != nil {
			return err
		}
	}

	s.config.Tags = tags
	s.memberLock.Lock()
	if m, ok := s.members[s.config.NodeName]; ok {
		m.Tags = tags
	}
	s.memberLock.Unlock()

	ltime := s.clock.Increment()
	return s.broadcastJoin(ltime)
}

// Tags returns a copy of this node's currently advertised tags.
func (s *Serf) Tags() map[string]string {
	s.memberLock.RLock()
	defer s.memberLock.RUnlock()
	out := make(map[string]string, len(s.config.Tags))
	for k, v := range s.config.Tags {
		out[k] = v
	}
	return out
}

func (s *Serf) writeTagsFile(tags map[string]string) error {
	buf := bytes.NewBuffer(nil)
	enc := mpcodec.NewEncoder(buf, &mpcodec.JsonHandle{})
	if err := enc.Encode(tags); err != nil {
		return fmt.Errorf("encoding tags failed: %v", err)
	}
	tmp := s.config.TagsFile + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write tags file: %v", err)
	}
	return os.Rename(tmp, s.config.TagsFile)
}

// loadTagsFile reads a persisted tags file, returning an empty map if
// the file does not exist.
func loadTagsFile(path string) (map[string]string, error) {
	tags := make(map[string]string)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tags, nil
		}
		return nil, fmt.Errorf("failed to read tags file: %v", err)
	}
	dec := mpcodec.NewDecoder(bytes.NewReader(buf), &mpcodec.JsonHandle{})
	if err := dec.Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags file: %v", err)
	}
	return tags, nil
}

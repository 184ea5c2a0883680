package serf

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clustermesh/serf/internal/gossip"
)

// loadKeyringFile reads a JSON list of base64-encoded keys and builds a
// gossip.Keyring from them, the first entry becoming primary.
func loadKeyringFile(path string) (*gossip.Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring file: %v", err)
	}

	var encoded []string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("failed to decode keyring file: %v", err)
	}

	keys := make([][]byte, 0, len(encoded))
	for _, k := range encoded {
		raw, err := base64.StdEncoding.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("failed to decode key in keyring file: %v", err)
		}
		keys = append(keys, raw)
	}

	return gossip.NewKeyring(keys, nil)
}

// writeKeyringFile atomically persists keyring's current key set back to
// path as JSON, primary key first, so a restart preserves the active
// encryption state.
func writeKeyringFile(path string, keyring *gossip.Keyring) error {
	if path == "" {
		return nil
	}

	keys := keyring.GetKeys()
	encoded := make([]string, len(keys))
	for i, k := range keys {
		encoded[i] = base64.StdEncoding.EncodeToString(k)
	}

	data, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode keyring: %v", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write keyring file: %v", err)
	}
	return os.Rename(tmp, path)
}

package gossip

import (
	"crypto/subtle"
	"sync"

	"github.com/pkg/errors"
)

// Keyring manages a set of AES symmetric keys for the encrypted transport.
// The first key is always the primary key, used to encrypt outbound traffic;
// decryption tries every key in order, so a rotation can proceed without a
// flag day.
type Keyring struct {
	l    sync.RWMutex
	keys [][]byte
}

func validateKeySize(key []byte) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return errors.Errorf("key size must be 16, 24, or 32 bytes, got %d", len(key))
	}
}

// NewKeyring constructs a keyring from a set of keys, with primaryKey (if
// non-empty) forced to the front.
func NewKeyring(keys [][]byte, primaryKey []byte) (*Keyring, error) {
	k := &Keyring{}
	if len(keys) == 0 {
		return k, nil
	}
	if len(primaryKey) == 0 {
		primaryKey = keys[0]
	}
	if err := validateKeySize(primaryKey); err != nil {
		return nil, err
	}
	k.keys = append(k.keys, primaryKey)
	for _, key := range keys {
		if subtle.ConstantTimeCompare(key, primaryKey) == 1 {
			continue
		}
		if err := validateKeySize(key); err != nil {
			return nil, err
		}
		k.keys = append(k.keys, key)
	}
	return k, nil
}

// AddKey installs key into the ring if not already present. It does not
// become primary; callers use UseKey for that.
func (k *Keyring) AddKey(key []byte) error {
	if err := validateKeySize(key); err != nil {
		return err
	}
	k.l.Lock()
	defer k.l.Unlock()
	for _, existing := range k.keys {
		if subtle.ConstantTimeCompare(existing, key) == 1 {
			return nil
		}
	}
	k.keys = append(k.keys, key)
	return nil
}

// UseKey promotes an already-installed key to primary.
func (k *Keyring) UseKey(key []byte) error {
	k.l.Lock()
	defer k.l.Unlock()
	for i, existing := range k.keys {
		if subtle.ConstantTimeCompare(existing, key) == 1 {
			k.keys[0], k.keys[i] = k.keys[i], k.keys[0]
			return nil
		}
	}
	return errors.New("requested key is not in the keyring")
}

// RemoveKey removes key from the ring. The primary key cannot be removed.
func (k *Keyring) RemoveKey(key []byte) error {
	k.l.Lock()
	defer k.l.Unlock()
	if len(k.keys) > 0 && subtle.ConstantTimeCompare(k.keys[0], key) == 1 {
		return errors.New("cannot remove the primary key")
	}
	for i, existing := range k.keys {
		if subtle.ConstantTimeCompare(existing, key) == 1 {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			return nil
		}
	}
	return errors.New("requested key is not in the keyring")
}

// GetKeys returns a snapshot of all keys, primary first.
func (k *Keyring) GetKeys() [][]byte {
	k.l.RLock()
	defer k.l.RUnlock()
	out := make([][]byte, len(k.keys))
	copy(out, k.keys)
	return out
}

// GetPrimaryKey returns the active encryption key, or nil if encryption is
// disabled.
func (k *Keyring) GetPrimaryKey() []byte {
	k.l.RLock()
	defer k.l.RUnlock()
	if len(k.keys) == 0 {
		return nil
	}
	return k.keys[0]
}

package client

import (
	"fmt"
	"github.com/clustermesh/serf/serf"
)

// InstallKey installs key on every reachable member's keyring, returning
// the subset of members that reported failure.
func (c *RPCClient) InstallKey(key string) ([]string, error) {
	km := c.agent.Serf().KeyManager()
	if km == nil {
		return nil, fmt.Errorf("keyring is not enabled on this agent")
	}
	resp, err := km.InstallKey(key)
	return failedNodes(resp), err
}

// UseKey changes the primary encryption key used by every reachable member.
func (c *RPCClient) UseKey(key string) error {
	km := c.agent.Serf().KeyManager()
	if km == nil {
		return fmt.Errorf("keyring is not enabled on this agent")
	}
	_, err := km.UseKey(key)
	return err
}

// RemoveKey removes key from every reachable member's keyring, returning
// the subset of members that reported failure.
func (c *RPCClient) RemoveKey(key string) ([]string, error) {
	km := c.agent.Serf().KeyManager()
	if km == nil {
		return nil, fmt.Errorf("keyring is not enabled on this agent")
	}
	resp, err := km.RemoveKey(key)
	return failedNodes(resp), err
}

// RotateKey installs newKey as a decryption key across the cluster, then
// promotes it to primary. Unlike the split install/use/remove commands
// it does not remove any prior key, since the caller may still need it
// to reach members that have not yet picked up newKey.
func (c *RPCClient) RotateKey(newKey string) error {
	if _, err := c.InstallKey(newKey); err != nil {
		return fmt.Errorf("install phase failed: %w", err)
	}
	return c.UseKey(newKey)
}

// ListKeys gathers the set of distinct encryption keys installed
// anywhere in the cluster.
func (c *RPCClient) ListKeys() ([]string, error) {
	km := c.agent.Serf().KeyManager()
	if km == nil {
		return nil, fmt.Errorf("keyring is not enabled on this agent")
	}
	resp, err := km.ListKeys()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(resp.Keys))
	for k := range resp.Keys {
		keys = append(keys, k)
	}
	return keys, nil
}

// failedNodes flattens a ModifyKeyResponse's per-node messages into the
// node-name list the CLI commands report, treating a nil response (a
// transport-level failure before any node replied) as no failed nodes.
func failedNodes(resp *serf.ModifyKeyResponse) []string {
	if resp == nil {
		return nil
	}
	out := make([]string, 0, len(resp.Messages))
	for node := range resp.Messages {
		out = append(out, node)
	}
	return out
}

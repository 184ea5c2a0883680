// Package client implements the command-line facing side of Serf's
// control surface. Rather than a network RPC transport it resolves
// addresses against an in-process registry that a running agent
// populates with Register, so the command tools built against
// RPCClient exercise the same Serf/KeyManager calls a real transport
// would forward.
package client

import (
	"fmt"
	"github.com/clustermesh/serf/serf"
	"sync"
)

// AgentHandle is the surface a running agent exposes to RPCClient. It is
// satisfied by *command/agent.Agent without either package importing
// the other's concrete type.
type AgentHandle interface {
	Serf() *serf.Serf
	Join(addrs []string, replay bool) (int, error)
	Leave() error
	ForceLeave(node string) error
	UserEvent(name string, payload []byte, coalesce bool) error
	Query(name string, payload []byte, params *serf.QueryParam) (*serf.QueryResponse, error)
	SetTags(tags map[string]string) error
	ConfigJSON() (string, error)
	Shutdown() error
}

// Config configures how ClientFromConfig resolves an RPCClient.
type Config struct {
	// Addr is the address an agent registered itself under via Register.
	Addr string

	// AuthKey, if the agent was started with one, must match.
	AuthKey string
}

var (
	registryLock sync.RWMutex
	registry     = make(map[string]*registeredAgent)
)

type registeredAgent struct {
	handle  AgentHandle
	authKey string
}

// Register makes an agent reachable at addr for subsequent
// ClientFromConfig calls. Called from Agent.Start.
func Register(addr string, handle AgentHandle, authKey string) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[addr] = &registeredAgent{handle: handle, authKey: authKey}
}

// Unregister removes addr from the registry. Called from Agent.Shutdown.
func Unregister(addr string) {
	registryLock.Lock()
	defer registryLock.Unlock()
	delete(registry, addr)
}

// ClientFromConfig resolves config.Addr to a running agent and checks
// config.AuthKey against it, returning a client bound to that agent.
func ClientFromConfig(config *Config) (*RPCClient, error) {
	registryLock.RLock()
	entry, ok := registry[config.Addr]
	registryLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no agent registered at %q", config.Addr)
	}
	if entry.authKey != "" && entry.authKey != config.AuthKey {
		return nil, fmt.Errorf("invalid RPC auth token for %q", config.Addr)
	}

	return &RPCClient{addr: config.Addr, agent: entry.handle}, nil
}

// RPCClient is a handle to a running agent, mirroring the method surface
// of Serf's client.RPCClient but dispatching in-process instead
// of over the network.
type RPCClient struct {
	addr  string
	agent AgentHandle

	closeOnce sync.Once
}

// Close releases the client. It does not affect the agent it is bound to.
func (c *RPCClient) Close() error {
	c.closeOnce.Do(func() {})
	return nil
}

// Member mirrors serf.Member in a form convenient for CLI output and
// JSON encoding (net.IP and MemberStatus don't marshal the way CLI users expect).
type Member struct {
	Name   string            `json:"name"`
	Addr   string            `json:"addr"`
	Port   uint16            `json:"port"`
	Tags   map[string]string `json:"tags"`
	Status string            `json:"status"`

	ProtocolMin uint8 `json:"protocol_min"`
	ProtocolMax uint8 `json:"protocol_max"`
	ProtocolCur uint8 `json:"protocol_cur"`
}

func memberFromSerf(m serf.Member) Member {
	return Member{
		Name:        m.Name,
		Addr:        m.Addr.String(),
		Port:        m.Port,
		Tags:        m.Tags,
		Status:      m.Status.String(),
		ProtocolMin: m.ProtocolMin,
		ProtocolMax: m.ProtocolMax,
		ProtocolCur: m.ProtocolCur,
	}
}

// Members returns a snapshot of the cluster as seen by the bound agent.
func (c *RPCClient) Members() ([]Member, error) {
	raw := c.agent.Serf().Members()
	out := make([]Member, len(raw))
	for i, m := range raw {
		out[i] = memberFromSerf(m)
	}
	return out, nil
}

// UserEvent dispatches a custom event through the cluster.
func (c *RPCClient) UserEvent(name string, payload []byte) error {
	return c.agent.UserEvent(name, payload, false)
}

// ForceLeave ejects node from the cluster permanently.
func (c *RPCClient) ForceLeave(node string) error {
	return c.agent.ForceLeave(node)
}

// Join asks the bound agent to join the given addresses.
func (c *RPCClient) Join(addrs []string, replay bool) (int, error) {
	return c.agent.Join(addrs, replay)
}

// GetConfig returns the bound agent's active configuration as JSON text.
func (c *RPCClient) GetConfig() (string, error) {
	return c.agent.ConfigJSON()
}

// UpdateTags replaces the tags gossiped by the bound agent.
func (c *RPCClient) UpdateTags(tags map[string]string, deleteTags []string) error {
	current := c.agent.Serf().Tags()
	merged := make(map[string]string, len(current)+len(tags))
	for k, v := range current {
		merged[k] = v
	}
	for _, k := range deleteTags {
		delete(merged, k)
	}
	for k, v := range tags {
		merged[k] = v
	}
	return c.agent.SetTags(merged)
}

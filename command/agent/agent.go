package agent

import (
	"encoding/json"
	"fmt"
	"github.com/clustermesh/serf/client"
	"github.com/clustermesh/serf/serf"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Agent starts and manages a Serf instance, adding some niceties
// on top of Serf such as persisting tags across restarts and invoking
// EventHandlers when events occur.
type Agent struct {
	// Stores the serf configuration
	conf *serf.Config

	// Stores the agent configuration
	agentConf *Config

	// eventCh is used for Serf to deliver events on
	eventCh chan serf.Event

	// eventHandlers is the registered handlers for events
	eventHandlers     map[EventHandler]struct{}
	eventHandlersLock sync.Mutex

	logger *slog.Logger

	// This is the underlying Serf we are wrapping
	serf *serf.Serf

	// shutdownCh is used for shutdowns
	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// Create builds a new agent, potentially returning an error. logOutput
// defaults to os.Stderr when nil.
func Create(agentConf *Config, conf *serf.Config, logOutput io.Writer) (*Agent, error) {
	if logOutput == nil {
		logOutput = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(logOutput, nil))
	conf.Logger = logger
	if conf.MemberlistConfig != nil {
		conf.MemberlistConfig.Logger = logger
	}

	if agentConf.NodeName != "" {
		conf.NodeName = agentConf.NodeName
	}
	if len(agentConf.Tags) > 0 {
		conf.Tags = agentConf.Tags
	}
	conf.TagsFile = agentConf.TagsFile

	eventCh := make(chan serf.Event, 64)
	conf.EventCh = eventCh

	agent := &Agent{
		conf:          conf,
		agentConf:     agentConf,
		eventCh:       eventCh,
		eventHandlers: make(map[EventHandler]struct{}),
		logger:        logger,
		shutdownCh:    make(chan struct{}),
	}

	if agentConf.TagsFile != "" {
		if err := agent.loadTagsFile(agentConf.TagsFile); err != nil {
			return nil, err
		}
	}

	return agent, nil
}

// Start is used to create the underlying Serf instance and initiate the
// event listener. It is separate from Create so that there isn't a race
// condition between creating the agent and registering handlers.
func (a *Agent) Start() error {
	a.logger.Info("agent starting", "node", a.conf.NodeName)

	s, err := serf.Create(a.conf)
	if err != nil {
		return fmt.Errorf("error creating serf: %s", err)
	}
	a.serf = s

	if a.agentConf.RPCAddr != "" {
		client.Register(a.agentConf.RPCAddr, a, a.agentConf.RPCAuthKey)
	}

	go a.eventLoop()
	return nil
}

// Leave prepares for a graceful shutdown of the agent and its processes.
func (a *Agent) Leave() error {
	if a.serf == nil {
		return nil
	}

	a.logger.Info("requesting graceful leave from serf")
	return a.serf.Leave()
}

// Shutdown closes this agent and all of its processes. Should be
// preceded by a Leave for a graceful shutdown.
func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()

	if a.shutdown {
		return nil
	}

	if a.serf != nil {
		a.logger.Info("requesting serf shutdown")
		if err := a.serf.Shutdown(); err != nil {
			return err
		}
	}

	if a.agentConf.RPCAddr != "" {
		client.Unregister(a.agentConf.RPCAddr)
	}

	a.logger.Info("shutdown complete")
	a.shutdown = true
	close(a.shutdownCh)
	return nil
}

// ShutdownCh returns a channel that can be selected to wait
// for the agent to perform a shutdown.
func (a *Agent) ShutdownCh() <-chan struct{} {
	return a.shutdownCh
}

// Serf returns the Serf instance of the running Agent.
func (a *Agent) Serf() *serf.Serf {
	return a.serf
}

// SerfConfig returns the Serf config of the running Agent.
func (a *Agent) SerfConfig() *serf.Config {
	return a.conf
}

// Join asks the Serf instance to join. See the Serf.Join function.
func (a *Agent) Join(addrs []string, replay bool) (n int, err error) {
	a.logger.Info("joining", "addrs", addrs, "replay", replay)
	ignoreOld := !replay
	n, err = a.serf.Join(addrs, ignoreOld)
	if n > 0 {
		a.logger.Info("joined", "count", n)
	}
	if err != nil {
		a.logger.Warn("error joining", "error", err)
	}
	return
}

// ForceLeave is used to eject a failed node from the cluster.
func (a *Agent) ForceLeave(node string) error {
	a.logger.Info("force leaving node", "node", node)
	err := a.serf.RemoveFailedNode(node)
	if err != nil {
		a.logger.Warn("failed to remove node", "error", err)
	}
	return err
}

// UserEvent sends a UserEvent on Serf, see Serf.UserEvent.
func (a *Agent) UserEvent(name string, payload []byte, coalesce bool) error {
	a.logger.Debug("requesting user event send", "name", name, "coalesce", coalesce)
	err := a.serf.UserEvent(name, payload, coalesce)
	if err != nil {
		a.logger.Warn("failed to send user event", "error", err)
	}
	return err
}

// Query sends a Query on Serf, see Serf.Query.
func (a *Agent) Query(name string, payload []byte, params *serf.QueryParam) (*serf.QueryResponse, error) {
	if strings.HasPrefix(name, serf.InternalQueryPrefix) {
		return nil, fmt.Errorf("queries cannot contain the %q prefix", serf.InternalQueryPrefix)
	}
	a.logger.Debug("requesting query send", "name", name)
	resp, err := a.serf.Query(name, payload, params)
	if err != nil {
		a.logger.Warn("failed to start query", "error", err)
	}
	return resp, err
}

// RegisterEventHandler adds an event handler to receive event notifications.
func (a *Agent) RegisterEventHandler(eh EventHandler) {
	a.eventHandlersLock.Lock()
	defer a.eventHandlersLock.Unlock()
	a.eventHandlers[eh] = struct{}{}
}

// DeregisterEventHandler removes an EventHandler and prevents more invocations.
func (a *Agent) DeregisterEventHandler(eh EventHandler) {
	a.eventHandlersLock.Lock()
	defer a.eventHandlersLock.Unlock()
	delete(a.eventHandlers, eh)
}

// eventLoop listens to events from Serf and fans out to event handlers.
func (a *Agent) eventLoop() {
	for {
		select {
		case e := <-a.eventCh:
			a.logger.Info("received event", "event", e.String())
			a.eventHandlersLock.Lock()
			for eh := range a.eventHandlers {
				eh.HandleEvent(e)
			}
			a.eventHandlersLock.Unlock()

		case <-a.shutdownCh:
			return
		}
	}
}

// SetTags is used to update the tags. The agent will make sure to
// persist tags if necessary before gossiping to the cluster.
func (a *Agent) SetTags(tags map[string]string) error {
	if a.agentConf.TagsFile != "" {
		if err := a.writeTagsFile(tags); err != nil {
			a.logger.Error("failed to write tags file", "error", err)
			return err
		}
	}

	return a.serf.SetTags(tags)
}

// loadTagsFile will load agent tags out of a file and set them in the
// current serf configuration.
func (a *Agent) loadTagsFile(tagsFile string) error {
	if len(a.agentConf.Tags) > 0 {
		return fmt.Errorf("tags config not allowed while using tag files")
	}

	if _, err := os.Stat(tagsFile); err == nil {
		tagData, err := os.ReadFile(tagsFile)
		if err != nil {
			return fmt.Errorf("failed to read tags file: %s", err)
		}
		if err := json.Unmarshal(tagData, &a.agentConf.Tags); err != nil {
			return fmt.Errorf("failed to decode tags file: %s", err)
		}
		a.logger.Info("restored tags from file", "count", len(a.agentConf.Tags), "path", tagsFile)
	}

	return nil
}

// writeTagsFile will write the current tags to the configured tags file.
func (a *Agent) writeTagsFile(tags map[string]string) error {
	encoded, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tags: %s", err)
	}

	if err := os.WriteFile(a.agentConf.TagsFile, encoded, 0600); err != nil {
		return fmt.Errorf("failed to write tags file: %s", err)
	}

	return nil
}

// agentConfigSummary is the JSON shape returned by ConfigJSON, covering
// the fields an operator inspecting a running agent cares about.
type agentConfigSummary struct {
	NodeName        string            `json:"node_name"`
	BindAddr        string            `json:"bind_addr"`
	RPCAddr         string            `json:"rpc_addr"`
	Tags            map[string]string `json:"tags"`
	ProtocolVersion uint8             `json:"protocol_version"`
	EventHandlers   []string          `json:"event_handlers"`
}

// ConfigJSON returns the agent's active configuration as JSON text, used
// by the getconfig command.
func (a *Agent) ConfigJSON() (string, error) {
	summary := agentConfigSummary{
		NodeName:        a.conf.NodeName,
		BindAddr:        a.agentConf.BindAddr,
		RPCAddr:         a.agentConf.RPCAddr,
		Tags:            a.serf.Tags(),
		ProtocolVersion: a.conf.ProtocolVersion,
		EventHandlers:   a.agentConf.EventHandlers,
	}
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// MarshalTags is a utility function which takes a map of tag key/value pairs
// and returns the same tags as strings in 'key=value' format.
func MarshalTags(tags map[string]string) []string {
	var result []string
	for name, value := range tags {
		result = append(result, fmt.Sprintf("%s=%s", name, value))
	}
	return result
}

// UnmarshalTags is a utility function which takes a slice of strings in
// key=value format and returns them as a tag mapping.
func UnmarshalTags(tags []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid tag: %q", tag)
		}
		result[parts[0]] = parts[1]
	}
	return result, nil
}

package agent

// Config is the configuration that can be set for an Agent. Some of these
// configurations are exposed as command-line flags to `serf agent`, whereas
// many of the more advanced configurations can only be set by creating
// a configuration file.
type Config struct {
	// All the configurations in this section are identical to their
	// Serf counterparts. See the documentation for Serf.Config for
	// more info.
	NodeName string `mapstructure:"node_name"`

	// Tags are arbitrary key/value metadata gossiped alongside
	// membership. TagsFile, if set, persists them across restarts and
	// may not be combined with Tags in the same config load.
	Tags     map[string]string `mapstructure:"tags"`
	TagsFile string            `mapstructure:"tags_file"`

	// BindAddr is the address that the Serf agent's communication ports
	// will bind to. Serf may use multiple ports (see documentation), so
	// this is only the address to bind to.
	BindAddr string `mapstructure:"bind_addr"`

	// RPCAddr is the address this agent's in-process client registers
	// under, used by the CLI commands to reach a running agent.
	RPCAddr string `mapstructure:"rpc_addr"`

	// RPCAuthKey, if set, is required from the CLI client before any
	// command is accepted.
	RPCAuthKey string `mapstructure:"rpc_auth"`

	// EventHandlers is a list of event handlers that will be invoked.
	EventHandlers []string `mapstructure:"event_handlers"`
}

package agent

import "time"

const (
	// DefaultMessageBufferSize is the default inbox capacity.
	DefaultMessageBufferSize = 100

	// DefaultTTL is the default discovery liveness window.
	DefaultTTL = 60 * time.Second
)

// Config is the construction-time value object for a Node. It is owned by the
// node it configures and never mutated after construction.
type Config struct {
	// Name is a human-readable label. Uniqueness is not required; the ID is
	// the primary key.
	Name string `yaml:"name"`

	// Type classifies the agent for discovery filtering.
	Type Type `yaml:"type"`

	// Capabilities are the discovery tags for this agent.
	Capabilities []Capability `yaml:"capabilities"`

	// MessageBufferSize bounds the inbox channel. A full inbox blocks the
	// router (backpressure), it does not drop.
	MessageBufferSize int `yaml:"message_buffer_size"`

	// RegisterWithDiscovery controls automatic discovery registration when
	// the node is added to a network. Nil means on; agents are discoverable
	// unless they opt out with Bool(false).
	RegisterWithDiscovery *bool `yaml:"register_with_discovery"`

	// TTL is the discovery liveness window refreshed by heartbeats.
	TTL time.Duration `yaml:"ttl"`

	// Metadata is free-form string metadata carried into discovery.
	Metadata map[string]string `yaml:"metadata"`
}

// DefaultConfig returns a Config with the stated defaults: 100-message inbox,
// 60s TTL, discovery registration on.
func DefaultConfig() Config {
	return Config{
		Type:                  TypeRegular,
		MessageBufferSize:     DefaultMessageBufferSize,
		RegisterWithDiscovery: Bool(true),
		TTL:                   DefaultTTL,
		Metadata:              make(map[string]string),
	}
}

// Bool returns a pointer to v, for setting Config.RegisterWithDiscovery.
func Bool(v bool) *bool { return &v }

// DiscoveryEnabled reports whether the node should be registered with
// discovery when added to a network. Unset means yes.
func (c Config) DiscoveryEnabled() bool {
	return c.RegisterWithDiscovery == nil || *c.RegisterWithDiscovery
}

// withDefaults fills zero values so nodes built from partial configs behave.
func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = TypeRegular
	}
	if c.MessageBufferSize <= 0 {
		c.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.RegisterWithDiscovery == nil {
		c.RegisterWithDiscovery = Bool(true)
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	return c
}

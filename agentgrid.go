// Package agentgrid wires an agent network from declarative YAML: topology,
// discovery backend, agent definitions, heartbeat. The packages underneath
// (agent, network, discovery) are usable directly; this package is the
// config-file surface the CLI runs.
package agentgrid

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/discovery"
	"github.com/agentgrid-dev/agentgrid/network"
	"github.com/agentgrid-dev/agentgrid/pkg/observability"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the top-level configuration.
type Config struct {
	Network NetworkDef `yaml:"network"`
	Agents  []AgentDef `yaml:"agents"`
}

// NetworkDef configures the network coordinator.
type NetworkDef struct {
	Name string `yaml:"name"`

	// Topology selects the connectivity policy.
	// Options: "fully_connected", "star", "ring", "custom"
	// Default: "fully_connected"
	Topology string `yaml:"topology,omitempty"`

	// HeartbeatInterval is how often discovery liveness is refreshed (e.g.
	// "30s"). Default: 30s.
	HeartbeatInterval Duration `yaml:"heartbeat_interval,omitempty"`

	// RouteTimeout bounds how long a delivery may block on a full inbox.
	// Zero means block until space frees.
	RouteTimeout Duration `yaml:"route_timeout,omitempty"`

	Discovery DiscoveryDef `yaml:"discovery,omitempty"`

	// MetricsPort serves /metrics and /health when non-zero.
	MetricsPort int `yaml:"metrics_port,omitempty"`
}

// DiscoveryDef configures the discovery backend.
type DiscoveryDef struct {
	// Backend specifies the storage backend type.
	// Options: "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend,omitempty"`

	// RedisAddr is the Redis address for the redis backend.
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// SweepSchedule is a cron expression for the memory backend's eager
	// expiry sweep (e.g. "@every 5s"). Empty disables the sweeper.
	SweepSchedule string `yaml:"sweep_schedule,omitempty"`
}

// AgentDef represents one agent's configuration.
type AgentDef struct {
	Name                  string             `yaml:"name"`
	Type                  string             `yaml:"type,omitempty"`
	Capabilities          []agent.Capability `yaml:"capabilities,omitempty"`
	MessageBufferSize     int                `yaml:"message_buffer_size,omitempty"`
	RegisterWithDiscovery *bool              `yaml:"register_with_discovery,omitempty"`
	TTL                   Duration           `yaml:"ttl,omitempty"`
	Metadata              map[string]string  `yaml:"metadata,omitempty"`
}

func (d AgentDef) toAgentConfig() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.Name = d.Name
	if d.Type != "" {
		cfg.Type = agent.Type(d.Type)
	}
	cfg.Capabilities = d.Capabilities
	if d.MessageBufferSize > 0 {
		cfg.MessageBufferSize = d.MessageBufferSize
	}
	if d.RegisterWithDiscovery != nil {
		cfg.RegisterWithDiscovery = d.RegisterWithDiscovery
	}
	if d.TTL > 0 {
		cfg.TTL = time.Duration(d.TTL)
	}
	if d.Metadata != nil {
		cfg.Metadata = d.Metadata
	}
	return cfg
}

// FileReader interface for reading files (testable).
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile.
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is from trusted CLI input
}

// ConfigLoader loads configuration from a file.
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a new config loader.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr}
}

// LoadConfig loads and parses a config file.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Network.Name == "" {
		config.Network.Name = "agentgrid"
	}
	return &config, nil
}

// Build constructs a network and its agents from config. Agents are added but
// not started.
func Build(ctx context.Context, config *Config) (*network.AgentNetwork, error) {
	kind := network.TopologyFullyConnected
	if config.Network.Topology != "" {
		switch k := network.TopologyKind(config.Network.Topology); k {
		case network.TopologyFullyConnected, network.TopologyStar, network.TopologyRing, network.TopologyCustom:
			kind = k
		default:
			return nil, fmt.Errorf("unknown topology: %s", config.Network.Topology)
		}
	}
	topology := network.NewGraphTopology(kind)

	var routerOpts []network.RouterOption
	if config.Network.RouteTimeout > 0 {
		routerOpts = append(routerOpts, network.WithRouteTimeout(time.Duration(config.Network.RouteTimeout)))
	}
	router := network.NewRouter(topology, routerOpts...)

	disc, err := buildDiscovery(config.Network.Discovery)
	if err != nil {
		return nil, err
	}

	net := network.NewAgentNetwork(config.Network.Name,
		network.WithTopology(topology),
		network.WithRouter(router),
		network.WithDiscovery(disc),
	)

	for _, def := range config.Agents {
		node := agent.NewNode(def.toAgentConfig(), agent.WithObserver(observability.NewMetricsObserver()))
		if err := net.AddAgent(ctx, node); err != nil {
			return nil, fmt.Errorf("failed to add agent %s: %w", def.Name, err)
		}
		log.Printf("Created agent: %s (%s)", def.Name, node.ID())
	}
	return net, nil
}

func buildDiscovery(def DiscoveryDef) (discovery.Discovery, error) {
	switch def.Backend {
	case "", "memory":
		return discovery.NewInMemoryDiscovery(), nil
	case "redis":
		if def.RedisAddr == "" {
			return nil, fmt.Errorf("redis discovery backend requires redis_addr")
		}
		return discovery.NewRedisDiscovery(def.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown discovery backend: %s", def.Backend)
	}
}

// Run starts the agent network from a config file and blocks until SIGINT or
// SIGTERM.
func Run(configPath string) error {
	loader := NewConfigLoader(&OSFileReader{})
	config, err := loader.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return RunWithConfig(config)
}

// RunWithConfig starts the agent network with the provided config.
func RunWithConfig(config *Config) error {
	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("Warning: Failed to initialize tracing: %v", err)
		// Continue even if tracing fails
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net, err := Build(ctx, config)
	if err != nil {
		return err
	}

	if mem, ok := net.Discovery().(*discovery.InMemoryDiscovery); ok && config.Network.Discovery.SweepSchedule != "" {
		stopSweep, err := mem.StartSweeper(config.Network.Discovery.SweepSchedule)
		if err != nil {
			return err
		}
		defer stopSweep()
	}

	if err := net.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start agents: %w", err)
	}

	interval := 30 * time.Second
	if config.Network.HeartbeatInterval > 0 {
		interval = time.Duration(config.Network.HeartbeatInterval)
	}
	stopHeartbeat := net.StartHeartbeat(ctx, interval)
	defer stopHeartbeat()

	var obsServer *observability.Server
	if config.Network.MetricsPort > 0 {
		hc := observability.NewHealthChecker()
		hc.RegisterCheck(observability.PingCheck())
		hc.RegisterCheck(observability.DiscoveryCheck(func(ctx context.Context) error {
			_, err := net.Discovery().All(ctx)
			return err
		}))
		obsServer = observability.NewServer(config.Network.MetricsPort, hc)
		go func() {
			if err := obsServer.Start(); err != nil {
				log.Printf("Observability server: %v", err)
			}
		}()
		log.Printf("Serving /metrics and /health on :%d", config.Network.MetricsPort)
	}

	log.Printf("Network %s running with %d agents. Press Ctrl+C to stop.", net.Name(), net.AgentCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	if err := net.StopAll(); err != nil {
		log.Printf("Warning: Failed to stop some agents: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Failed to shutdown observability server: %v", err)
		}
	}
	if err := observability.ShutdownTracing(shutdownCtx); err != nil {
		log.Printf("Warning: Failed to shutdown tracing: %v", err)
	}
	return nil
}

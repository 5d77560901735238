package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/discovery"
	"github.com/agentgrid-dev/agentgrid/pkg/observability"
)

// Option configures an AgentNetwork at construction.
type Option func(*AgentNetwork)

// WithTopology replaces the default fully-connected topology.
func WithTopology(t Topology) Option {
	return func(n *AgentNetwork) { n.topology = t }
}

// WithRouter replaces the default router. The router's topology is overridden
// with the network's.
func WithRouter(r Router) Option {
	return func(n *AgentNetwork) { n.router = r }
}

// WithDiscovery replaces the default in-memory discovery backend.
func WithDiscovery(d discovery.Discovery) Option {
	return func(n *AgentNetwork) { n.discovery = d }
}

// AgentNetwork is the top-level coordinator. It is the sole owner of agent
// lifetime: the registry holds the only strong reference to each node, while
// the router, topology, and discovery hold only the agent's identity (plus,
// for the router, a cloned inbox handle).
//
// The registry is a sync.Map so insert/remove of one id never blocks
// operations on unrelated ids.
type AgentNetwork struct {
	id   agent.ID
	name string

	agents sync.Map // agent.ID -> *agent.Node

	router    Router
	topology  Topology
	discovery discovery.Discovery
}

// NewAgentNetwork creates a network with a fully-connected topology, the
// default router, and in-memory discovery unless options say otherwise.
func NewAgentNetwork(name string, opts ...Option) *AgentNetwork {
	n := &AgentNetwork{
		id:   agent.NewID(),
		name: name,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.topology == nil {
		n.topology = NewFullyConnected()
	}
	if n.router == nil {
		n.router = NewRouter(n.topology)
	} else {
		n.router.SetTopology(n.topology)
	}
	if n.discovery == nil {
		n.discovery = discovery.NewInMemoryDiscovery()
	}
	return n
}

// ID returns the network's unique identifier.
func (n *AgentNetwork) ID() agent.ID { return n.id }

// Name returns the network's configured name.
func (n *AgentNetwork) Name() string { return n.name }

// Topology returns the shared topology.
func (n *AgentNetwork) Topology() Topology { return n.topology }

// Discovery returns the shared discovery backend.
func (n *AgentNetwork) Discovery() discovery.Discovery { return n.discovery }

// Router returns the shared router.
func (n *AgentNetwork) Router() Router { return n.router }

// AddAgent registers a node with the network: topology, router, discovery (if
// the node's config asks for it), and finally the registry, so an id visible
// in the registry is always fully wired. Side effects are rolled back
// best-effort on failure.
func (n *AgentNetwork) AddAgent(ctx context.Context, node *agent.Node) error {
	id := node.ID()
	if _, loaded := n.agents.Load(id); loaded {
		return fmt.Errorf("%w: %s", agent.ErrAlreadyRegistered, id)
	}

	if err := n.topology.AddNode(id); err != nil {
		return fmt.Errorf("failed to add %s to topology: %w", id, err)
	}
	n.router.Register(id, node.Inbox())

	cfg := node.Config()
	if cfg.DiscoveryEnabled() {
		reg := discovery.RegistrationFromConfig(id, cfg)
		if err := n.discovery.Register(ctx, reg); err != nil {
			n.router.Unregister(id)
			n.topology.RemoveNode(id)
			return fmt.Errorf("failed to register %s with discovery: %w", id, err)
		}
	}

	node.AttachNetwork(n)

	if _, loaded := n.agents.LoadOrStore(id, node); loaded {
		// Lost a race with a concurrent AddAgent of the same node.
		n.router.Unregister(id)
		n.topology.RemoveNode(id)
		if cfg.DiscoveryEnabled() {
			if err := n.discovery.Deregister(ctx, id); err != nil && !errors.Is(err, agent.ErrServiceNotFound) {
				log.Printf("network %s: rollback deregister of %s failed: %v", n.name, id, err)
			}
		}
		return fmt.Errorf("%w: %s", agent.ErrAlreadyRegistered, id)
	}
	return nil
}

// RemoveAgent stops a node and tears it down: router, topology, discovery,
// and the registry entry last, so concurrent lookups never observe a
// half-torn-down agent.
func (n *AgentNetwork) RemoveAgent(ctx context.Context, id agent.ID) error {
	val, ok := n.agents.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", agent.ErrAgentNotFound, id)
	}
	node := val.(*agent.Node)

	if err := node.Stop(); err != nil {
		log.Printf("network %s: stopping %s during removal: %v", n.name, id, err)
	}
	n.router.Unregister(id)
	n.topology.RemoveNode(id)
	if node.Config().DiscoveryEnabled() {
		if err := n.discovery.Deregister(ctx, id); err != nil && !errors.Is(err, agent.ErrServiceNotFound) {
			log.Printf("network %s: deregistering %s from discovery: %v", n.name, id, err)
		}
	}

	n.agents.Delete(id)
	return nil
}

// GetAgent returns the registered node for id.
func (n *AgentNetwork) GetAgent(id agent.ID) (*agent.Node, error) {
	val, ok := n.agents.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, id)
	}
	return val.(*agent.Node), nil
}

// Agents returns a snapshot of all registered nodes.
func (n *AgentNetwork) Agents() []*agent.Node {
	var nodes []*agent.Node
	n.agents.Range(func(_, val any) bool {
		nodes = append(nodes, val.(*agent.Node))
		return true
	})
	return nodes
}

// AgentCount returns the number of registered agents.
func (n *AgentNetwork) AgentCount() int {
	count := 0
	n.agents.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// SendMessage validates that every receiver is currently registered, then
// delegates to the router. Validation fails fast before any delivery, so a
// fan-out is never partially applied.
func (n *AgentNetwork) SendMessage(ctx context.Context, msg *agent.Message) error {
	if msg == nil || len(msg.Receivers) == 0 {
		return fmt.Errorf("%w: message has no receivers", agent.ErrRoutingFailed)
	}
	for _, to := range msg.Receivers {
		if _, ok := n.agents.Load(to); !ok {
			return fmt.Errorf("%w: receiver %s", agent.ErrAgentNotFound, to)
		}
	}
	return n.router.Route(ctx, msg)
}

// Broadcast sends a message from sender to every other registered agent.
// With no other agents present it is a no-op success.
func (n *AgentNetwork) Broadcast(ctx context.Context, sender agent.ID, msgType agent.MessageType, content string) error {
	if _, ok := n.agents.Load(sender); !ok {
		return fmt.Errorf("%w: sender %s", agent.ErrAgentNotFound, sender)
	}

	var receivers []agent.ID
	n.agents.Range(func(key, _ any) bool {
		if id := key.(agent.ID); id != sender {
			receivers = append(receivers, id)
		}
		return true
	})
	if len(receivers) == 0 {
		return nil
	}

	return n.SendMessage(ctx, agent.NewMessage(sender, receivers, msgType, content))
}

// StartAll starts every registered agent concurrently. Best-effort: one
// agent's failure does not prevent starting the rest; all failures are
// reported joined.
func (n *AgentNetwork) StartAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	n.agents.Range(func(_, val any) bool {
		node := val.(*agent.Node)
		g.Go(func() error {
			if err := node.Start(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("start %s: %w", node.ID(), err))
				mu.Unlock()
			}
			return nil
		})
		return true
	})
	_ = g.Wait()
	return errors.Join(errs...)
}

// StopAll stops every registered agent. Best-effort, failures joined.
func (n *AgentNetwork) StopAll() error {
	var errs []error
	n.agents.Range(func(_, val any) bool {
		node := val.(*agent.Node)
		if err := node.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", node.ID(), err))
		}
		return true
	})
	return errors.Join(errs...)
}

// StartHeartbeat spawns a recurring task that refreshes discovery liveness
// for every Running, discovery-registered agent once per interval. Heartbeat
// failures are logged and counted, never fatal to the loop. An agent whose
// registration expired between beats is re-registered.
//
// The returned stop function cancels the loop and waits for it to exit.
func (n *AgentNetwork) StartHeartbeat(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				n.beat(hbCtx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (n *AgentNetwork) beat(ctx context.Context) {
	n.agents.Range(func(_, val any) bool {
		node := val.(*agent.Node)
		cfg := node.Config()
		if !cfg.DiscoveryEnabled() || node.Status() != agent.StatusRunning {
			return true
		}

		err := n.discovery.Heartbeat(ctx, node.ID())
		switch {
		case err == nil:
			observability.RecordHeartbeat(true)
		case errors.Is(err, agent.ErrServiceExpired), errors.Is(err, agent.ErrServiceNotFound):
			// Lapsed between beats; self-heal by re-registering.
			observability.RecordHeartbeat(false)
			reg := discovery.RegistrationFromConfig(node.ID(), cfg)
			if regErr := n.discovery.Register(ctx, reg); regErr != nil {
				log.Printf("network %s: re-register %s after lapsed heartbeat: %v", n.name, node.ID(), regErr)
			}
		default:
			observability.RecordHeartbeat(false)
			log.Printf("network %s: heartbeat for %s: %v", n.name, node.ID(), err)
		}
		return true
	})
}

package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/pkg/observability"
)

// Router delivers messages to agent inboxes subject to the topology.
//
// Implementations must be safe for concurrent use.
type Router interface {
	// Register installs a delivery handle for an agent.
	Register(id agent.ID, inbox chan<- *agent.Message)

	// Unregister removes the delivery handle. Unknown ids are a no-op.
	Unregister(id agent.ID)

	// Route validates every receiver, then delivers an independent clone of
	// the message to each receiver's inbox.
	Route(ctx context.Context, msg *agent.Message) error

	// SetTopology swaps the connectivity policy consulted on every delivery.
	SetTopology(t Topology)

	// AgentCount returns the number of registered delivery handles.
	AgentCount() int
}

// RouterOption configures a DefaultRouter at construction.
type RouterOption func(*DefaultRouter)

// WithRouteTimeout bounds how long a delivery may block on a full inbox.
// Without it, backpressure is blocking: a full receiver stalls the sender
// until space frees or the context is canceled.
func WithRouteTimeout(d time.Duration) RouterOption {
	return func(r *DefaultRouter) { r.routeTimeout = d }
}

// WithRateLimit throttles deliveries to at most n per second with the given
// burst. Useful when a chatty supervisor can overwhelm slow workers.
func WithRateLimit(perSecond float64, burst int) RouterOption {
	return func(r *DefaultRouter) {
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// DefaultRouter is the in-process Router. It validates all receivers against
// the registry and topology before delivering anything, so a partially
// undeliverable fan-out fails whole without side effects.
type DefaultRouter struct {
	mu       sync.RWMutex
	inboxes  map[agent.ID]chan<- *agent.Message
	topology Topology

	routeTimeout time.Duration
	limiter      *rate.Limiter
}

// NewRouter creates a router over the given topology.
func NewRouter(t Topology, opts ...RouterOption) *DefaultRouter {
	r := &DefaultRouter{
		inboxes:  make(map[agent.ID]chan<- *agent.Message),
		topology: t,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs a delivery handle for an agent.
func (r *DefaultRouter) Register(id agent.ID, inbox chan<- *agent.Message) {
	r.mu.Lock()
	r.inboxes[id] = inbox
	r.mu.Unlock()
}

// Unregister removes the delivery handle for an agent.
func (r *DefaultRouter) Unregister(id agent.ID) {
	r.mu.Lock()
	delete(r.inboxes, id)
	r.mu.Unlock()
}

// SetTopology swaps the connectivity policy.
func (r *DefaultRouter) SetTopology(t Topology) {
	r.mu.Lock()
	r.topology = t
	r.mu.Unlock()
}

// AgentCount returns the number of registered delivery handles.
func (r *DefaultRouter) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inboxes)
}

// Route delivers msg to every receiver. Validation runs first over the whole
// receiver set: an unknown receiver fails with ErrAgentNotFound and a known
// but topologically unreachable one with ErrRoutingFailed, in both cases
// before any inbox sees the message. Each receiver then gets its own clone
// with Receivers narrowed to itself, so handler-side mutation never leaks
// across the fan-out.
func (r *DefaultRouter) Route(ctx context.Context, msg *agent.Message) error {
	ctx, span := observability.StartSpan(ctx, "router.Route",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", string(msg.Type)),
			attribute.Int("message.receivers", len(msg.Receivers)),
		))
	defer span.End()

	if len(msg.Receivers) == 0 {
		observability.RecordRoutingError()
		return fmt.Errorf("%w: message %s has no receivers", agent.ErrRoutingFailed, msg.ID)
	}

	r.mu.RLock()
	topology := r.topology
	targets := make([]chan<- *agent.Message, 0, len(msg.Receivers))
	for _, to := range msg.Receivers {
		inbox, ok := r.inboxes[to]
		if !ok {
			r.mu.RUnlock()
			observability.RecordRoutingError()
			return fmt.Errorf("%w: receiver %s", agent.ErrAgentNotFound, to)
		}
		if topology != nil && !topology.Connected(msg.Sender, to) {
			r.mu.RUnlock()
			observability.RecordRoutingError()
			return fmt.Errorf("%w: %s is not connected to %s", agent.ErrRoutingFailed, msg.Sender, to)
		}
		targets = append(targets, inbox)
	}
	r.mu.RUnlock()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			observability.RecordRoutingError()
			return fmt.Errorf("%w: rate limit: %v", agent.ErrRoutingFailed, err)
		}
	}

	for i, inbox := range targets {
		clone := msg.Clone()
		clone.Receivers = []agent.ID{msg.Receivers[i]}
		if err := r.deliver(ctx, inbox, clone); err != nil {
			observability.RecordRoutingError()
			return fmt.Errorf("%w: receiver %s: %v", agent.ErrRoutingFailed, msg.Receivers[i], err)
		}
	}

	observability.RecordMessageRouted(string(msg.Type))
	return nil
}

func (r *DefaultRouter) deliver(ctx context.Context, inbox chan<- *agent.Message, msg *agent.Message) error {
	if r.routeTimeout > 0 {
		timer := time.NewTimer(r.routeTimeout)
		defer timer.Stop()
		select {
		case inbox <- msg:
			return nil
		case <-timer.C:
			return fmt.Errorf("inbox full after %s", r.routeTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

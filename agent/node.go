package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Handler processes one message and may produce zero or more reply messages.
// Handlers must be pure with respect to the network: they return replies to
// the processing loop instead of routing them, which avoids re-entrant
// routing from inside dispatch.
type Handler interface {
	Handle(msg *Message) ([]*Message, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(msg *Message) ([]*Message, error)

// Handle calls f(msg).
func (f HandlerFunc) Handle(msg *Message) ([]*Message, error) { return f(msg) }

// Network is the non-owning capability handle a node uses to route messages.
// The network owns the node; the node only holds this narrow back-reference,
// so ownership never cycles.
type Network interface {
	SendMessage(ctx context.Context, msg *Message) error
}

// Observer receives lifecycle and processing events for an injected telemetry
// sink. The zero observer is a no-op; pkg/observability provides a
// Prometheus-backed implementation.
type Observer interface {
	AgentStarted(id ID, name string)
	AgentStopped(id ID, name string)
	MessageProcessed(id ID, msgType MessageType, received, processed time.Time)
	HandlerError(id ID, msgType MessageType, err error)
}

type nopObserver struct{}

func (nopObserver) AgentStarted(ID, string)                                {}
func (nopObserver) AgentStopped(ID, string)                                {}
func (nopObserver) MessageProcessed(ID, MessageType, time.Time, time.Time) {}
func (nopObserver) HandlerError(ID, MessageType, error)                    {}

// NodeOption configures a Node at construction.
type NodeOption func(*Node)

// WithObserver injects a telemetry sink for lifecycle and processing events.
func WithObserver(obs Observer) NodeOption {
	return func(n *Node) {
		if obs != nil {
			n.observer = obs
		}
	}
}

// WithID sets an explicit agent ID instead of generating one. Used by tests
// and by deployments that persist identities.
func WithID(id ID) NodeOption {
	return func(n *Node) { n.id = id }
}

// Node is a single agent's runtime: a bounded inbox, a handler table keyed by
// message type, a lockable status cell, and one processing goroutine. Nodes
// are created detached and become live when added to a network and started.
//
// Node is safe for concurrent use.
type Node struct {
	id       ID
	config   Config
	inbox    chan *Message
	observer Observer

	statusMu sync.RWMutex
	status   Status

	handlersMu sync.RWMutex
	handlers   map[MessageType][]Handler

	networkMu sync.RWMutex
	network   Network

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNode creates a node in the Initialized state. The inbox is bounded by
// cfg.MessageBufferSize; a full inbox blocks the router, it does not drop.
func NewNode(cfg Config, opts ...NodeOption) *Node {
	cfg = cfg.withDefaults()
	n := &Node{
		id:       NewID(),
		config:   cfg,
		inbox:    make(chan *Message, cfg.MessageBufferSize),
		observer: nopObserver{},
		status:   StatusInitialized,
		handlers: make(map[MessageType][]Handler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns the node's agent ID.
func (n *Node) ID() ID { return n.id }

// Name returns the configured human-readable name.
func (n *Node) Name() string { return n.config.Name }

// Config returns the construction-time configuration.
func (n *Node) Config() Config { return n.config }

// Status returns the current lifecycle state.
func (n *Node) Status() Status {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()
	return n.status
}

func (n *Node) setStatus(s Status) {
	n.statusMu.Lock()
	n.status = s
	n.statusMu.Unlock()
}

// Inbox returns the send end of the node's inbox. The network hands this to
// the router at registration; it is a delivery capability, not ownership.
func (n *Node) Inbox() chan<- *Message { return n.inbox }

// AttachNetwork installs the back-reference used to route replies. Called by
// the network when the node is added.
func (n *Node) AttachNetwork(net Network) {
	n.networkMu.Lock()
	n.network = net
	n.networkMu.Unlock()
}

// AddMessageHandler registers a handler for a message type. Multiple handlers
// per type run in registration order.
func (n *Node) AddMessageHandler(msgType MessageType, h Handler) {
	n.handlersMu.Lock()
	n.handlers[msgType] = append(n.handlers[msgType], h)
	n.handlersMu.Unlock()
}

// Send routes a message through the attached network. Returns
// ErrNetworkUnavailable if the node has not been added to a network.
func (n *Node) Send(ctx context.Context, msg *Message) error {
	n.networkMu.RLock()
	net := n.network
	n.networkMu.RUnlock()
	if net == nil {
		return fmt.Errorf("%w: %s", ErrNetworkUnavailable, n.id)
	}
	return net.SendMessage(ctx, msg)
}

// Start spawns the processing loop. A second Start on a running node fails
// with ErrAlreadyRunning so two loops never consume one inbox. A stopped node
// cannot be restarted; create a fresh Node instead. The status flips to
// Running before the goroutine is spawned, so a concurrent status read never
// observes a stale Initialized once Start has returned.
func (n *Node) Start(ctx context.Context) error {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	switch n.Status() {
	case StatusRunning:
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, n.id)
	case StatusStopped:
		return fmt.Errorf("agent %s is stopped and cannot be restarted", n.id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.setStatus(StatusRunning)
	n.observer.AgentStarted(n.id, n.config.Name)

	go n.run(runCtx, n.done)
	return nil
}

// Stop is idempotent: it flips the status to Stopped and cancels the
// processing loop. Cancellation is checked at the inbox-receive boundary, so
// a handler invocation in flight when Stop is called may not route its
// replies; delivery is at-most-once. The observer only hears AgentStopped for
// a node that was Running, keeping started/stopped events paired.
func (n *Node) Stop() error {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	wasRunning := n.Status() == StatusRunning
	if n.Status() == StatusStopped {
		return nil
	}

	n.setStatus(StatusStopped)
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	if wasRunning {
		n.observer.AgentStopped(n.id, n.config.Name)
	}
	return nil
}

// Done reports loop exit; closed when the processing goroutine returns.
// Returns nil if the node was never started.
func (n *Node) Done() <-chan struct{} {
	n.runMu.Lock()
	defer n.runMu.Unlock()
	return n.done
}

func (n *Node) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-n.inbox:
			if !ok {
				return
			}
			n.process(ctx, msg)
		}
	}
}

// process dispatches one message: stamp received, invoke the handlers for its
// type in registration order, stamp processed, route any replies. A message
// with no registered handler is stamped processed and dropped; that is not an
// error. Individual handler errors are logged so one failing handler cannot
// block the others.
func (n *Node) process(ctx context.Context, msg *Message) {
	msg.MarkReceived()

	n.handlersMu.RLock()
	handlers := append([]Handler(nil), n.handlers[msg.Type]...)
	n.handlersMu.RUnlock()

	var replies []*Message
	for _, h := range handlers {
		out, err := h.Handle(msg)
		if err != nil {
			log.Printf("agent %s: handler error for %s message: %v", n.id, msg.Type, err)
			n.observer.HandlerError(n.id, msg.Type, err)
			continue
		}
		replies = append(replies, out...)
	}

	msg.MarkProcessed()
	n.observer.MessageProcessed(n.id, msg.Type, *msg.ReceivedAt, *msg.ProcessedAt)

	for _, reply := range replies {
		if err := n.Send(ctx, reply); err != nil {
			log.Printf("agent %s: failed to route reply: %v", n.id, err)
		}
	}
}

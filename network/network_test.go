package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/discovery"
)

func addAgent(t *testing.T, net *AgentNetwork, name string, caps ...string) *agent.Node {
	t.Helper()
	cfg := agent.DefaultConfig()
	cfg.Name = name
	for _, c := range caps {
		cfg.Capabilities = append(cfg.Capabilities, agent.Capability{Name: c})
	}
	node := agent.NewNode(cfg)
	if err := net.AddAgent(context.Background(), node); err != nil {
		t.Fatalf("AddAgent(%s) returned error: %v", name, err)
	}
	return node
}

func TestNewAgentNetworkDefaults(t *testing.T) {
	net := NewAgentNetwork("test")
	if net.ID() == "" {
		t.Error("network ID is empty")
	}
	if net.Name() != "test" {
		t.Errorf("Name = %q, want %q", net.Name(), "test")
	}
	if net.Topology().Kind() != TopologyFullyConnected {
		t.Errorf("default topology = %v, want fully connected", net.Topology().Kind())
	}
	if net.AgentCount() != 0 {
		t.Errorf("AgentCount = %d, want 0", net.AgentCount())
	}
}

func TestAddAgentWiresEverything(t *testing.T) {
	net := NewAgentNetwork("test")
	node := addAgent(t, net, "worker", "search")

	if net.AgentCount() != 1 {
		t.Errorf("AgentCount = %d, want 1", net.AgentCount())
	}
	if net.Topology().NodeCount() != 1 {
		t.Errorf("topology NodeCount = %d, want 1", net.Topology().NodeCount())
	}
	if net.Router().AgentCount() != 1 {
		t.Errorf("router AgentCount = %d, want 1", net.Router().AgentCount())
	}
	reg, err := net.Discovery().GetByID(context.Background(), node.ID())
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if !reg.HasCapability("search") {
		t.Error("discovery registration missing capability")
	}
}

func TestAddAgentDuplicate(t *testing.T) {
	net := NewAgentNetwork("test")
	node := addAgent(t, net, "dup")

	err := net.AddAgent(context.Background(), node)
	if !errors.Is(err, agent.ErrAlreadyRegistered) {
		t.Errorf("second AddAgent error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestAddAgentSkipsDiscoveryWhenDisabled(t *testing.T) {
	net := NewAgentNetwork("test")
	cfg := agent.DefaultConfig()
	cfg.Name = "private"
	cfg.RegisterWithDiscovery = agent.Bool(false)
	node := agent.NewNode(cfg)
	if err := net.AddAgent(context.Background(), node); err != nil {
		t.Fatalf("AddAgent returned error: %v", err)
	}

	if _, err := net.Discovery().GetByID(context.Background(), node.ID()); !errors.Is(err, agent.ErrServiceNotFound) {
		t.Errorf("GetByID error = %v, want ErrServiceNotFound", err)
	}
}

func TestRemoveAgent(t *testing.T) {
	net := NewAgentNetwork("test")
	node := addAgent(t, net, "doomed")
	ctx := context.Background()

	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := net.RemoveAgent(ctx, node.ID()); err != nil {
		t.Fatalf("RemoveAgent returned error: %v", err)
	}

	if node.Status() != agent.StatusStopped {
		t.Errorf("removed node Status = %v, want Stopped", node.Status())
	}
	if _, err := net.GetAgent(node.ID()); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("GetAgent error = %v, want ErrAgentNotFound", err)
	}
	if _, err := net.Discovery().GetByID(ctx, node.ID()); !errors.Is(err, agent.ErrServiceNotFound) {
		t.Errorf("GetByID error = %v, want ErrServiceNotFound", err)
	}

	// Sends addressed to the removed agent fail validation.
	msg := agent.NewMessage(agent.NewID(), []agent.ID{node.ID()}, agent.MessageTypeText, "x")
	if err := net.SendMessage(ctx, msg); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("SendMessage error = %v, want ErrAgentNotFound", err)
	}
}

func TestRemoveAgentUnknown(t *testing.T) {
	net := NewAgentNetwork("test")
	err := net.RemoveAgent(context.Background(), agent.NewID())
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("RemoveAgent error = %v, want ErrAgentNotFound", err)
	}
}

func TestSendMessageValidatesAllReceivers(t *testing.T) {
	net := NewAgentNetwork("test")
	sender := addAgent(t, net, "sender")
	receiver := addAgent(t, net, "receiver")

	// One registered receiver plus one unknown: reject whole send.
	msg := agent.NewMessage(sender.ID(), []agent.ID{receiver.ID(), agent.NewID()}, agent.MessageTypeText, "x")
	if err := net.SendMessage(context.Background(), msg); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("SendMessage error = %v, want ErrAgentNotFound", err)
	}
}

// The end-to-end echo scenario: receiver replies "echo: "+content and the
// network routes the reply back to the sender.
func TestEchoRoundTrip(t *testing.T) {
	net := NewAgentNetwork("echo-net")
	ctx := context.Background()

	sender := addAgent(t, net, "sender")
	receiver := addAgent(t, net, "receiver")

	echoed := make(chan string, 1)
	sender.AddMessageHandler(agent.MessageTypeText, agent.HandlerFunc(func(msg *agent.Message) ([]*agent.Message, error) {
		echoed <- msg.Content
		return nil, nil
	}))
	receiver.AddMessageHandler(agent.MessageTypeText, agent.HandlerFunc(func(msg *agent.Message) ([]*agent.Message, error) {
		return []*agent.Message{msg.Reply("echo: " + msg.Content)}, nil
	}))

	if err := net.StartAll(ctx); err != nil {
		t.Fatalf("StartAll returned error: %v", err)
	}
	defer net.StopAll()

	msg := agent.NewMessage(sender.ID(), []agent.ID{receiver.ID()}, agent.MessageTypeText, "ping")
	if err := net.SendMessage(ctx, msg); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	select {
	case got := <-echoed:
		if got != "echo: ping" {
			t.Errorf("reply = %q, want %q", got, "echo: ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo reply")
	}
}

func TestBroadcast(t *testing.T) {
	net := NewAgentNetwork("bcast")
	ctx := context.Background()

	sender := addAgent(t, net, "sender")

	var mu sync.Mutex
	received := make(map[agent.ID]int)
	counted := make(chan struct{}, 8)

	var workers []*agent.Node
	for i := 0; i < 3; i++ {
		workers = append(workers, addAgent(t, net, "worker"))
	}
	for _, w := range workers {
		id := w.ID()
		w.AddMessageHandler(agent.MessageTypeEvent, agent.HandlerFunc(func(*agent.Message) ([]*agent.Message, error) {
			mu.Lock()
			received[id]++
			mu.Unlock()
			counted <- struct{}{}
			return nil, nil
		}))
	}
	sender.AddMessageHandler(agent.MessageTypeEvent, agent.HandlerFunc(func(*agent.Message) ([]*agent.Message, error) {
		t.Error("broadcast delivered to the sender")
		return nil, nil
	}))

	if err := net.StartAll(ctx); err != nil {
		t.Fatalf("StartAll returned error: %v", err)
	}
	defer net.StopAll()

	if err := net.Broadcast(ctx, sender.ID(), agent.MessageTypeEvent, "announce"); err != nil {
		t.Fatalf("Broadcast returned error: %v", err)
	}

	for i := 0; i < len(workers); i++ {
		select {
		case <-counted:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for broadcast deliveries")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != len(workers) {
		t.Errorf("broadcast reached %d workers, want %d", len(received), len(workers))
	}
	for id, count := range received {
		if count != 1 {
			t.Errorf("worker %s received %d copies, want 1", id, count)
		}
	}
}

func TestBroadcastSingleAgentIsNoop(t *testing.T) {
	net := NewAgentNetwork("solo")
	sender := addAgent(t, net, "only")

	if err := net.Broadcast(context.Background(), sender.ID(), agent.MessageTypeText, "hello?"); err != nil {
		t.Errorf("Broadcast with one agent returned error: %v", err)
	}
}

func TestBroadcastUnknownSender(t *testing.T) {
	net := NewAgentNetwork("test")
	err := net.Broadcast(context.Background(), agent.NewID(), agent.MessageTypeText, "x")
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Errorf("Broadcast error = %v, want ErrAgentNotFound", err)
	}
}

func TestStartAllIsBestEffort(t *testing.T) {
	net := NewAgentNetwork("test")
	ctx := context.Background()

	healthy := addAgent(t, net, "healthy")
	broken := addAgent(t, net, "broken")

	// Pre-start one agent so StartAll sees an ErrAlreadyRunning from it.
	if err := broken.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	err := net.StartAll(ctx)
	if !errors.Is(err, agent.ErrAlreadyRunning) {
		t.Errorf("StartAll error = %v, want ErrAlreadyRunning in the join", err)
	}
	if healthy.Status() != agent.StatusRunning {
		t.Error("healthy agent was not started despite best-effort contract")
	}

	if err := net.StopAll(); err != nil {
		t.Errorf("StopAll returned error: %v", err)
	}
	if healthy.Status() != agent.StatusStopped || broken.Status() != agent.StatusStopped {
		t.Error("StopAll left agents running")
	}
}

func TestHeartbeatKeepsRegistrationsAlive(t *testing.T) {
	disc := discovery.NewInMemoryDiscovery()
	net := NewAgentNetwork("hb", WithDiscovery(disc))
	ctx := context.Background()

	cfg := agent.DefaultConfig()
	cfg.Name = "beater"
	cfg.TTL = 80 * time.Millisecond
	node := agent.NewNode(cfg)
	if err := net.AddAgent(ctx, node); err != nil {
		t.Fatalf("AddAgent returned error: %v", err)
	}
	if err := node.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer node.Stop()

	stop := net.StartHeartbeat(ctx, 20*time.Millisecond)
	defer stop()

	// Without heartbeats the 80ms TTL would lapse well within this window.
	time.Sleep(250 * time.Millisecond)

	if _, err := disc.GetByID(ctx, node.ID()); err != nil {
		t.Errorf("registration lapsed despite heartbeats: %v", err)
	}
}

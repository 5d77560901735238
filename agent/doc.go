// Package agent provides the public types for building agents with Agentgrid.
//
// This package exports the identity types, the Message envelope, and the Node
// runtime that external projects need to participate in an agent network.
//
// # Basic Usage
//
// Create a node, register handlers, and add it to a network:
//
//	node := agent.NewNode(agent.Config{
//	    Name:         "echo",
//	    Capabilities: []agent.Capability{{Name: "echo"}},
//	})
//
//	node.AddMessageHandler(agent.MessageTypeText, agent.HandlerFunc(
//	    func(msg *agent.Message) ([]*agent.Message, error) {
//	        return []*agent.Message{msg.Reply("echo: " + msg.Content)}, nil
//	    }))
//
// Handlers must not perform network I/O themselves; replies are returned to
// the processing loop, which routes them through the network.
//
// # Message Format
//
// Messages are the standard unit of communication between agents:
//
//	msg := agent.NewMessage(sender, []agent.ID{receiver}, agent.MessageTypeText, "ping").
//	    WithMetadata("priority", "high")
//
// The framework stamps ReceivedAt and ProcessedAt as the message moves through
// the transport and the consuming handler; application code never sets them.
package agent

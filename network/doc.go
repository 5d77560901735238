// Package network provides the coordination layer for a population of agents:
// a message router, a pluggable connectivity topology, and the AgentNetwork
// coordinator that owns agent lifetime.
//
// The network is the sole owner of agent nodes. The router holds only cloned
// inbox handles, the topology holds only agent IDs, and discovery holds only
// registration records; removing an agent from the network tears all three
// down.
//
//	net := network.NewAgentNetwork("prod")
//	if err := net.AddAgent(ctx, agent.NewNode(agent.DefaultConfig())); err != nil {
//	    ...
//	}
//	stop := net.StartHeartbeat(ctx, 30*time.Second)
//	defer stop()
package network

// Command benchmark measures routing throughput: N messages fanned through a
// network of M agents, reporting delivery rate and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/network"
)

func main() {
	var (
		agentCount = flag.Int("agents", 10, "Number of receiver agents")
		messages   = flag.Int("messages", 10000, "Messages to send")
		bufferSize = flag.Int("buffer", 100, "Inbox buffer size")
		topology   = flag.String("topology", "fully_connected", "Topology: fully_connected, star, ring")
		timeout    = flag.Duration("timeout", time.Minute, "Overall benchmark timeout")
	)
	flag.Parse()

	if err := run(*agentCount, *messages, *bufferSize, *topology, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(agentCount, messages, bufferSize int, topology string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	net := network.NewAgentNetwork("benchmark",
		network.WithTopology(network.NewGraphTopology(network.TopologyKind(topology))))

	senderCfg := agent.DefaultConfig()
	senderCfg.Name = "sender"
	senderCfg.RegisterWithDiscovery = agent.Bool(false)
	senderCfg.MessageBufferSize = bufferSize
	sender := agent.NewNode(senderCfg)
	if err := net.AddAgent(ctx, sender); err != nil {
		return fmt.Errorf("add sender: %w", err)
	}

	var (
		mu        sync.Mutex
		latencies []time.Duration
	)
	done := make(chan struct{})
	remaining := int64(messages)

	receivers := make([]agent.ID, 0, agentCount)
	for i := 0; i < agentCount; i++ {
		cfg := agent.DefaultConfig()
		cfg.Name = fmt.Sprintf("receiver-%d", i)
		cfg.RegisterWithDiscovery = agent.Bool(false)
		cfg.MessageBufferSize = bufferSize
		node := agent.NewNode(cfg)
		node.AddMessageHandler(agent.MessageTypeText, agent.HandlerFunc(func(msg *agent.Message) ([]*agent.Message, error) {
			mu.Lock()
			latencies = append(latencies, time.Since(msg.CreatedAt))
			remaining--
			if remaining == 0 {
				close(done)
			}
			mu.Unlock()
			return nil, nil
		}))
		if err := net.AddAgent(ctx, node); err != nil {
			return fmt.Errorf("add receiver %d: %w", i, err)
		}
		receivers = append(receivers, node.ID())
	}

	if err := net.StartAll(ctx); err != nil {
		return fmt.Errorf("start agents: %w", err)
	}
	defer net.StopAll()

	fmt.Printf("Sending %d messages to %d agents (%s topology, buffer %d)...\n",
		messages, agentCount, topology, bufferSize)

	start := time.Now()
	for i := 0; i < messages; i++ {
		to := receivers[i%len(receivers)]
		msg := agent.NewMessage(sender.ID(), []agent.ID{to}, agent.MessageTypeText, "payload")
		if err := net.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message %d: %w", i, err)
		}
	}
	sendDone := time.Since(start)

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		outstanding := remaining
		mu.Unlock()
		return fmt.Errorf("timed out with %d messages outstanding", outstanding)
	}
	total := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("Sent in      %v (%.0f msg/s)\n", sendDone.Round(time.Millisecond), float64(messages)/sendDone.Seconds())
	fmt.Printf("Processed in %v (%.0f msg/s)\n", total.Round(time.Millisecond), float64(messages)/total.Seconds())
	fmt.Printf("Latency p50=%v p95=%v p99=%v max=%v\n",
		percentile(latencies, 50), percentile(latencies, 95),
		percentile(latencies, 99), latencies[len(latencies)-1])
	return nil
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

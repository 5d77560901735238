package network

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/agentgrid-dev/agentgrid/agent"
)

// TopologyKind selects the connectivity policy a topology enforces.
type TopologyKind string

const (
	// TopologyFullyConnected lets every node reach every other node.
	TopologyFullyConnected TopologyKind = "fully_connected"
	// TopologyStar routes all traffic through a hub (the first node added).
	TopologyStar TopologyKind = "star"
	// TopologyRing connects nodes to their insertion-order neighbors.
	TopologyRing TopologyKind = "ring"
	// TopologyCustom wires nothing automatically; edges are added explicitly.
	TopologyCustom TopologyKind = "custom"
)

// EdgeAttributes annotate a directed edge between two agents.
type EdgeAttributes struct {
	// Weight is the routing cost used by ShortestPath. Defaults to 1.
	Weight float64
	// Label is an optional human-readable tag.
	Label string
}

// Topology maintains which agent pairs may communicate. The router consults
// Connected before every delivery, so restricted policies can be substituted
// without touching the router or the network.
//
// Implementations must be safe for concurrent use.
type Topology interface {
	// AddNode inserts an agent and applies the policy's automatic wiring.
	AddNode(id agent.ID) error

	// RemoveNode removes an agent and its edges. Removing an absent node is
	// a no-op success; callers cannot assume prior presence.
	RemoveNode(id agent.ID)

	// AddEdge creates a directed edge. Nil attrs means defaults.
	AddEdge(from, to agent.ID, attrs *EdgeAttributes) error

	// RemoveEdge deletes a directed edge.
	RemoveEdge(from, to agent.ID) error

	// Connected reports whether from may send to to.
	Connected(from, to agent.ID) bool

	// Neighbors returns the agents directly reachable from id.
	Neighbors(id agent.ID) []agent.ID

	// ShortestPath returns the minimum-weight path from from to to,
	// inclusive of both endpoints.
	ShortestPath(from, to agent.ID) ([]agent.ID, error)

	// Nodes returns all agent IDs in the topology.
	Nodes() []agent.ID

	// NodeCount returns the number of nodes.
	NodeCount() int

	// EdgeCount returns the number of directed edges.
	EdgeCount() int

	// Kind returns the connectivity policy.
	Kind() TopologyKind
}

// GraphTopology is an adjacency-map digraph implementing Topology. The
// reference policy is fully-connected; star, ring, and custom policies are
// selected at construction.
type GraphTopology struct {
	kind TopologyKind

	mu    sync.RWMutex
	edges map[agent.ID]map[agent.ID]EdgeAttributes
	order []agent.ID // insertion order; drives star hub and ring wiring
}

// NewGraphTopology creates a topology enforcing the given policy.
func NewGraphTopology(kind TopologyKind) *GraphTopology {
	return &GraphTopology{
		kind:  kind,
		edges: make(map[agent.ID]map[agent.ID]EdgeAttributes),
	}
}

// NewFullyConnected creates the reference fully-connected topology.
func NewFullyConnected() *GraphTopology {
	return NewGraphTopology(TopologyFullyConnected)
}

// Kind returns the connectivity policy.
func (g *GraphTopology) Kind() TopologyKind { return g.kind }

// AddNode inserts id and applies the policy's automatic wiring. Adding an id
// that is already present is a no-op.
func (g *GraphTopology) AddNode(id agent.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[id]; exists {
		return nil
	}
	g.edges[id] = make(map[agent.ID]EdgeAttributes)
	g.order = append(g.order, id)

	switch g.kind {
	case TopologyFullyConnected:
		for other := range g.edges {
			if other == id {
				continue
			}
			g.edges[id][other] = EdgeAttributes{Weight: 1}
			g.edges[other][id] = EdgeAttributes{Weight: 1}
		}
	case TopologyStar:
		hub := g.order[0]
		if hub != id {
			g.edges[id][hub] = EdgeAttributes{Weight: 1}
			g.edges[hub][id] = EdgeAttributes{Weight: 1}
		}
	case TopologyRing:
		g.rewireRingLocked()
	}
	return nil
}

// RemoveNode removes id and all its edges. Absent ids are a no-op success.
func (g *GraphTopology) RemoveNode(id agent.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[id]; !exists {
		return
	}
	delete(g.edges, id)
	for _, out := range g.edges {
		delete(out, id)
	}
	for i, n := range g.order {
		if n == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}

	switch g.kind {
	case TopologyRing:
		g.rewireRingLocked()
	case TopologyStar:
		// A removed hub promotes the oldest remaining node.
		g.rewireStarLocked()
	}
}

// rewireRingLocked rebuilds ring edges from insertion order. Each node links
// both ways to its successor, wrapping at the end.
func (g *GraphTopology) rewireRingLocked() {
	for id := range g.edges {
		g.edges[id] = make(map[agent.ID]EdgeAttributes)
	}
	n := len(g.order)
	if n < 2 {
		return
	}
	for i, id := range g.order {
		next := g.order[(i+1)%n]
		if next == id {
			continue
		}
		g.edges[id][next] = EdgeAttributes{Weight: 1}
		g.edges[next][id] = EdgeAttributes{Weight: 1}
	}
}

func (g *GraphTopology) rewireStarLocked() {
	for id := range g.edges {
		g.edges[id] = make(map[agent.ID]EdgeAttributes)
	}
	if len(g.order) < 2 {
		return
	}
	hub := g.order[0]
	for _, id := range g.order[1:] {
		g.edges[id][hub] = EdgeAttributes{Weight: 1}
		g.edges[hub][id] = EdgeAttributes{Weight: 1}
	}
}

// AddEdge creates a directed edge between two present nodes.
func (g *GraphTopology) AddEdge(from, to agent.ID, attrs *EdgeAttributes) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[from]; !ok {
		return fmt.Errorf("%w: source node %s", agent.ErrAgentNotFound, from)
	}
	if _, ok := g.edges[to]; !ok {
		return fmt.Errorf("%w: target node %s", agent.ErrAgentNotFound, to)
	}

	a := EdgeAttributes{Weight: 1}
	if attrs != nil {
		a = *attrs
		if a.Weight <= 0 {
			a.Weight = 1
		}
	}
	g.edges[from][to] = a
	return nil
}

// RemoveEdge deletes the directed edge from→to.
func (g *GraphTopology) RemoveEdge(from, to agent.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, ok := g.edges[from]
	if !ok {
		return fmt.Errorf("%w: source node %s", agent.ErrAgentNotFound, from)
	}
	if _, ok := out[to]; !ok {
		return fmt.Errorf("edge %s -> %s does not exist", from, to)
	}
	delete(out, to)
	return nil
}

// Connected reports whether from may send to to. A node may always send to
// itself while present.
func (g *GraphTopology) Connected(from, to agent.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out, ok := g.edges[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	if _, ok := g.edges[to]; !ok {
		return false
	}
	_, connected := out[to]
	return connected
}

// Neighbors returns the agents directly reachable from id.
func (g *GraphTopology) Neighbors(id agent.ID) []agent.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out, ok := g.edges[id]
	if !ok {
		return nil
	}
	neighbors := make([]agent.ID, 0, len(out))
	for to := range out {
		neighbors = append(neighbors, to)
	}
	return neighbors
}

// Nodes returns all agent IDs in insertion order.
func (g *GraphTopology) Nodes() []agent.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]agent.ID(nil), g.order...)
}

// NodeCount returns the number of nodes.
func (g *GraphTopology) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// EdgeCount returns the number of directed edges.
func (g *GraphTopology) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for _, out := range g.edges {
		count += len(out)
	}
	return count
}

// pathItem is a priority-queue entry for Dijkstra.
type pathItem struct {
	id   agent.ID
	dist float64
}

type pathQueue []pathItem

func (q pathQueue) Len() int           { return len(q) }
func (q pathQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q pathQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)        { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// ShortestPath runs Dijkstra over edge weights and returns the minimum-cost
// path including both endpoints.
func (g *GraphTopology) ShortestPath(from, to agent.ID) ([]agent.ID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.edges[from]; !ok {
		return nil, fmt.Errorf("%w: source node %s", agent.ErrAgentNotFound, from)
	}
	if _, ok := g.edges[to]; !ok {
		return nil, fmt.Errorf("%w: target node %s", agent.ErrAgentNotFound, to)
	}
	if from == to {
		return []agent.ID{from}, nil
	}

	dist := map[agent.ID]float64{from: 0}
	prev := make(map[agent.ID]agent.ID)
	visited := make(map[agent.ID]bool)

	q := &pathQueue{{id: from, dist: 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(pathItem)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == to {
			break
		}
		for next, attrs := range g.edges[cur.id] {
			alt := cur.dist + attrs.Weight
			if d, seen := dist[next]; !seen || alt < d {
				dist[next] = alt
				prev[next] = cur.id
				heap.Push(q, pathItem{id: next, dist: alt})
			}
		}
	}

	if !visited[to] {
		return nil, fmt.Errorf("%w: no path from %s to %s", agent.ErrRoutingFailed, from, to)
	}

	path := []agent.ID{to}
	for cur := to; cur != from; {
		cur = prev[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

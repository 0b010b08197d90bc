// Package graph turns resource declarations into a validated dependency DAG.
package graph

import (
	"apphost/internal/errors"
	"apphost/internal/resource"
)

// EdgeKind is the strength of a dependency.
type EdgeKind string

const (
	// EdgeReference needs the producer's endpoint values resolved.
	EdgeReference EdgeKind = "reference"
	// EdgeWaitFor needs the producer Ready before the consumer starts.
	EdgeWaitFor EdgeKind = "wait_for"
)

// Edge means "Consumer depends on Producer".
type Edge struct {
	Consumer string   `json:"consumer"`
	Producer string   `json:"producer"`
	Kind     EdgeKind `json:"kind"`
}

// Graph is the immutable set of resources and edges for one run.
type Graph struct {
	resources []resource.Resource
	index     map[string]int
	edges     []Edge
	out       map[string][]Edge // by consumer
	in        map[string][]Edge // by producer
	topo      []string
}

// Build validates resources, derives edges and checks that the edge set is
// acyclic. No partial graph is returned on error.
func Build(resources []resource.Resource) (*Graph, error) {
	g := &Graph{
		resources: make([]resource.Resource, 0, len(resources)),
		index:     make(map[string]int, len(resources)),
		out:       make(map[string][]Edge, len(resources)),
		in:        make(map[string][]Edge, len(resources)),
	}

	for _, res := range resources {
		if err := res.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.index[res.Name]; dup {
			return nil, errors.Validation(res.Name, "name", "duplicate resource name")
		}
		g.index[res.Name] = len(g.resources)
		g.resources = append(g.resources, res.Clone())
	}

	for i := range g.resources {
		if err := g.addEdges(&g.resources[i]); err != nil {
			return nil, err
		}
	}

	topo, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.topo = topo
	return g, nil
}

func (g *Graph) addEdges(res *resource.Resource) error {
	seen := make(map[Edge]bool)
	add := func(producer string, kind EdgeKind) error {
		if _, ok := g.index[producer]; !ok {
			return &errors.UnknownResourceError{Consumer: res.Name, Producer: producer, Edge: string(kind)}
		}
		e := Edge{Consumer: res.Name, Producer: producer, Kind: kind}
		if seen[e] {
			return nil
		}
		seen[e] = true
		g.edges = append(g.edges, e)
		g.out[res.Name] = append(g.out[res.Name], e)
		g.in[producer] = append(g.in[producer], e)
		return nil
	}

	for _, producer := range res.WaitFor {
		if err := add(producer, EdgeWaitFor); err != nil {
			return err
		}
	}
	for _, producer := range res.References {
		if err := add(producer, EdgeReference); err != nil {
			return err
		}
	}
	for _, ref := range res.Refs() {
		if err := add(ref.Resource, EdgeReference); err != nil {
			return err
		}
		producer := g.resources[g.index[ref.Resource]]
		if _, ok := producer.Endpoint(ref.Endpoint); !ok {
			return errors.Validation(res.Name, "reference", "resource "+ref.Resource+" has no endpoint "+ref.Endpoint)
		}
	}
	return nil
}

// topoSort is a white/gray/black DFS over consumer -> producer edges in
// declaration order. A gray hit is a back edge and yields the cycle path.
func (g *Graph) topoSort() ([]string, error) {
	const (
		white uint8 = iota
		gray
		black
	)

	color := make(map[string]uint8, len(g.resources))
	stack := make([]string, 0, len(g.resources))
	stackPos := make(map[string]int, len(g.resources))
	topo := make([]string, 0, len(g.resources))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		stackPos[name] = len(stack)
		stack = append(stack, name)

		for _, e := range g.out[name] {
			switch color[e.Producer] {
			case gray:
				cycle := append([]string(nil), stack[stackPos[e.Producer]:]...)
				cycle = append(cycle, e.Producer)
				return &errors.CyclicDependencyError{Cycle: cycle}
			case white:
				if err := visit(e.Producer); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(stackPos, name)
		color[name] = black
		topo = append(topo, name)
		return nil
	}

	for _, res := range g.resources {
		if color[res.Name] != white {
			continue
		}
		if err := visit(res.Name); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// Len returns the number of resources.
func (g *Graph) Len() int {
	return len(g.resources)
}

// Resources returns the declarations in declaration order.
func (g *Graph) Resources() []resource.Resource {
	out := make([]resource.Resource, len(g.resources))
	for i, res := range g.resources {
		out[i] = res.Clone()
	}
	return out
}

// Resource returns one declaration by name.
func (g *Graph) Resource(name string) (resource.Resource, bool) {
	i, ok := g.index[name]
	if !ok {
		return resource.Resource{}, false
	}
	return g.resources[i].Clone(), true
}

// Names returns resource names in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.resources))
	for i, res := range g.resources {
		names[i] = res.Name
	}
	return names
}

// Edges returns every edge.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Producers returns the distinct resources name depends on, over both kinds.
func (g *Graph) Producers(name string) []string {
	return distinct(g.out[name], func(e Edge) string { return e.Producer }, "")
}

// WaitForProducers returns the resources that must be Ready before name starts.
func (g *Graph) WaitForProducers(name string) []string {
	return distinct(g.out[name], func(e Edge) string { return e.Producer }, EdgeWaitFor)
}

// Consumers returns the distinct resources that depend directly on name.
func (g *Graph) Consumers(name string) []string {
	return distinct(g.in[name], func(e Edge) string { return e.Consumer }, "")
}

// Dependents returns every resource transitively depending on name through
// either edge kind, in topological order.
func (g *Graph) Dependents(name string) []string {
	reached := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.in[current] {
			if !reached[e.Consumer] {
				reached[e.Consumer] = true
				queue = append(queue, e.Consumer)
			}
		}
	}

	out := make([]string, 0, len(reached))
	for _, n := range g.topo {
		if reached[n] {
			out = append(out, n)
		}
	}
	return out
}

// TopoOrder returns resource names with every producer before its consumers.
func (g *Graph) TopoOrder() []string {
	return append([]string(nil), g.topo...)
}

func distinct(edges []Edge, pick func(Edge) string, kind EdgeKind) []string {
	var out []string
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if kind != "" && e.Kind != kind {
			continue
		}
		n := pick(e)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

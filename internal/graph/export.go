package graph

import (
	"fmt"
	"strings"

	"apphost/internal/resource"
)

// Node is the exported view of one resource.
type Node struct {
	Name      string        `json:"name"`
	Kind      resource.Kind `json:"kind"`
	Endpoints []string      `json:"endpoints,omitempty"`
	Health    bool          `json:"health"`
}

// Snapshot is a JSON-ready view of the graph.
type Snapshot struct {
	Nodes     []Node   `json:"nodes"`
	Edges     []Edge   `json:"edges"`
	TopoOrder []string `json:"topoOrder"`
}

// Export returns a snapshot of the graph.
func (g *Graph) Export() Snapshot {
	s := Snapshot{
		Nodes:     make([]Node, 0, len(g.resources)),
		Edges:     g.Edges(),
		TopoOrder: g.TopoOrder(),
	}
	for _, res := range g.resources {
		n := Node{Name: res.Name, Kind: res.Kind, Health: res.HasHealthCheck()}
		for _, ep := range res.Endpoints {
			n.Endpoints = append(n.Endpoints, ep.Name)
		}
		s.Nodes = append(s.Nodes, n)
	}
	return s
}

// DOT exports Graphviz DOT text. WaitFor edges are solid, references dashed.
func (g *Graph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph apphost {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(g.resources))
	for i, res := range g.resources {
		alias := fmt.Sprintf("n%d", i)
		aliases[res.Name] = alias
		label := escapeDOT(res.Name) + "\\n(" + escapeDOT(string(res.Kind)) + ")"
		b.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", alias, label))
	}
	for _, e := range g.edges {
		style := ""
		if e.Kind == EdgeReference {
			style = " [style=dashed]"
		}
		b.WriteString(fmt.Sprintf("  %s -> %s%s;\n", aliases[e.Consumer], aliases[e.Producer], style))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid exports Mermaid graph text.
func (g *Graph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	aliases := make(map[string]string, len(g.resources))
	for i, res := range g.resources {
		alias := fmt.Sprintf("n%d", i)
		aliases[res.Name] = alias
		label := escapeMermaid(res.Name) + "<br/>(" + escapeMermaid(string(res.Kind)) + ")"
		b.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", alias, label))
	}
	for _, e := range g.edges {
		arrow := "-->"
		if e.Kind == EdgeReference {
			arrow = "-.->"
		}
		b.WriteString(fmt.Sprintf("    %s %s %s\n", aliases[e.Consumer], arrow, aliases[e.Producer]))
	}
	return b.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

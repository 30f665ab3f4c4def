package graph

import "slices"

// Add inserts or replaces a single node without a scan.
func (g *Graph) Add(n *Node) {
	if _, ok := g.nodes[n.Filename()]; !ok {
		i, _ := slices.BinarySearch(g.keys, n.Filename())
		g.keys = slices.Insert(g.keys, i, n.Filename())
	}
	g.nodes[n.Filename()] = n
}

// Keys returns the node keys in sorted order.
func (g *Graph) Keys() []string { return slices.Clone(g.keys) }

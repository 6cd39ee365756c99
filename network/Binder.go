package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Binder exposes a parameter set inside a computational graph. Nodes
// are created lazily the first time a layer asks for a parameter, so
// a graph only holds the parameters it actually uses.
//
// A Binder plays the role of a train network: Load copies the current
// parameter values into the graph before a step and Store writes the
// values back after the solver has stepped.
type Binder struct {
	g      *G.ExprGraph
	params *Params
	prefix string

	nodes map[string]*G.Node
	order []string
}

// NewBinder returns a new Binder for params in graph g. The prefix is
// prepended to node names so that several binders can share a graph.
func NewBinder(g *G.ExprGraph, params *Params, prefix string) *Binder {
	return &Binder{
		g:      g,
		params: params,
		prefix: prefix,
		nodes:  make(map[string]*G.Node),
	}
}

// Graph returns the computational graph of the Binder
func (b *Binder) Graph() *G.ExprGraph {
	return b.g
}

// Params returns the parameters bound by the Binder
func (b *Binder) Params() *Params {
	return b.params
}

// Node returns the graph node of the named parameter
func (b *Binder) Node(name string) *G.Node {
	if n, ok := b.nodes[name]; ok {
		return n
	}

	value, ok := b.params.View()[name]
	if !ok {
		panic(fmt.Sprintf("node: no parameter named %v", name))
	}
	shape := value.Shape().Clone()
	n := G.NewTensor(
		b.g,
		tensor.Float64,
		len(shape),
		G.WithShape(shape...),
		G.WithName(b.prefix+name),
		G.WithValue(value.Clone().(*tensor.Dense)),
	)
	b.nodes[name] = n
	b.order = append(b.order, name)
	return n
}

// Learnables returns the bound nodes in creation order
func (b *Binder) Learnables() G.Nodes {
	learnables := make(G.Nodes, len(b.order))
	for i, name := range b.order {
		learnables[i] = b.nodes[name]
	}
	return learnables
}

// Model returns the bound nodes as value-gradient pairs for a solver
func (b *Binder) Model() []G.ValueGrad {
	return G.NodesToValueGrads(b.Learnables())
}

// Load copies the current parameter values into the bound nodes
func (b *Binder) Load() error {
	view := b.params.View()
	for _, name := range b.order {
		value := view[name].Clone().(*tensor.Dense)
		if err := G.Let(b.nodes[name], value); err != nil {
			return fmt.Errorf("load: could not set %v: %v", name, err)
		}
	}
	return nil
}

// Store writes the values of the bound nodes back to the parameters
func (b *Binder) Store() error {
	values := make(map[string]*tensor.Dense, len(b.order))
	for _, name := range b.order {
		t, ok := b.nodes[name].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("store: node %v holds no tensor value", name)
		}
		values[name] = t
	}
	if err := b.params.Update(values); err != nil {
		return fmt.Errorf("store: %v", err)
	}
	return nil
}

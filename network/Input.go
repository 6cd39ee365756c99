package network

import (
	"github.com/samuelfneumann/godreamer/utils/tensorutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Input adds an input matrix node to g with the value of x. Gorgonia
// identifies input nodes by name and shape, so names must be unique
// within a graph.
func Input(g *G.ExprGraph, name string, x *mat.Dense) *G.Node {
	r, c := x.Dims()
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(r, c),
		G.WithName(name),
		G.WithValue(tensorutils.FromDense(x)),
	)
}

// InputVec adds an input vector node to g with the value of x
func InputVec(g *G.ExprGraph, name string, x []float64) *G.Node {
	backing := make([]float64, len(x))
	copy(backing, x)
	return G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(len(x)),
		G.WithName(name),
		G.WithValue(tensor.New(tensor.WithShape(len(x)),
			tensor.WithBacking(backing))),
	)
}

// InputImages adds an NCHW input node to g holding the images stored
// one per row of x
func InputImages(g *G.ExprGraph, name string, x *mat.Dense, channels,
	height, width int) *G.Node {
	batch, _ := x.Dims()
	backing := tensorutils.Float64s(tensorutils.FromDense(x))
	return G.NewTensor(
		g,
		tensor.Float64,
		4,
		G.WithShape(batch, channels, height, width),
		G.WithName(name),
		G.WithValue(tensor.New(
			tensor.WithShape(batch, channels, height, width),
			tensor.WithBacking(backing),
		)),
	)
}

// SetInput replaces the value of an input matrix node
func SetInput(n *G.Node, x *mat.Dense) error {
	return G.Let(n, tensorutils.FromDense(x))
}

// SetInputVec replaces the value of an input vector node
func SetInputVec(n *G.Node, x []float64) error {
	backing := make([]float64, len(x))
	copy(backing, x)
	return G.Let(n, tensor.New(tensor.WithShape(len(x)),
		tensor.WithBacking(backing)))
}

// SetInputImages replaces the value of an NCHW input node
func SetInputImages(n *G.Node, x *mat.Dense) error {
	backing := tensorutils.Float64s(tensorutils.FromDense(x))
	return G.Let(n, tensor.New(tensor.WithShape(n.Shape()...),
		tensor.WithBacking(backing)))
}

// Package network implements the neural network layers used by the
// agents. Every layer has two forward passes over the same parameters:
// Forward computes outputs numerically with gonum and Fwd adds the
// computation to a Gorgonia graph so that losses can be differentiated.
package network

import (
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Layer is a differentiable function of its parameters
type Layer interface {
	// Init registers the parameters of the layer
	Init(*Params) error

	// Forward computes the output of the layer numerically
	Forward(View, *mat.Dense) *mat.Dense

	// Fwd adds the forward pass of the layer to a computational graph
	Fwd(*Binder, *G.Node) (*G.Node, error)

	// OutputDim returns the number of output features of the layer
	OutputDim() int
}

var (
	_ Layer = (*FC)(nil)
	_ Layer = (*Dense)(nil)
	_ Layer = (*MLP)(nil)
	_ Layer = (*LayerNorm)(nil)
	_ Layer = (*Conv2D)(nil)
	_ Layer = (*CNN)(nil)
)

// Package tensorutils provides helpers for moving data between gonum
// matrices and Gorgonia tensors.
package tensorutils

import (
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Slice implements a struct that can be used for slicing tensors.
//
// Given a tensor T and a Slice S, T.Slice(..., S, ...) is equivalent to
// T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// Start returns the start index for the tensor slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index for the tensor slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step for the tensor slice
func (s Slice) Step() int {
	return s.step
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// FromDense returns a (rows, cols) Float64 tensor holding a copy of m
func FromDense(m mat.Matrix) *tensor.Dense {
	r, c := m.Dims()
	backing := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			backing[i*c+j] = m.At(i, j)
		}
	}
	return tensor.New(tensor.WithShape(r, c), tensor.WithBacking(backing))
}

// ToDense returns a copy of a 2-D Float64 tensor as a matrix. A 1-D
// tensor becomes a single row.
func ToDense(t tensor.Tensor) *mat.Dense {
	shape := t.Shape()
	data := t.Data().([]float64)
	backing := make([]float64, len(data))
	copy(backing, data)

	switch len(shape) {
	case 1:
		return mat.NewDense(1, shape[0], backing)
	case 2:
		return mat.NewDense(shape[0], shape[1], backing)
	default:
		return mat.NewDense(1, len(backing), backing)
	}
}

// Float64s returns a copy of the backing data of a Float64 tensor
func Float64s(t tensor.Tensor) []float64 {
	data := t.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

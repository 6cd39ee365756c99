package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an acion, an observation, a discount, or a reward
type SpecType int

const (
	Action SpecType = iota
	Observation
	Discount
	Reward
)

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action, observation, discount, or reward in
// an environment.
//
// For vector observations and continuous actions, Shape has one entry
// per dimension. Image observations have a Shape of (channels, height,
// width) and bounds of length one. Discrete actions have one Shape
// entry per action head, and the upper bound of head i is the largest
// legal index of that head.
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a new environment specification
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions, observations, etc.). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape mat.Vector, t SpecType, lowerBound,
	upperBound mat.Vector, cardinality Cardinality) Spec {
	if shape.Len() != lowerBound.Len() {
		panic(fmt.Sprintf("shape length %v must match lower bounds length %v",
			shape.Len(), lowerBound.Len()))
	}
	if shape.Len() != upperBound.Len() {
		panic(fmt.Sprintf("shape length %v must match upper bounds length %v",
			shape.Len(), upperBound.Len()))
	}
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// NewImageSpec returns the specification of an 8-bit image observation
func NewImageSpec(channels, height, width int) Spec {
	shape := mat.NewVecDense(3, []float64{float64(channels), float64(height),
		float64(width)})
	return Spec{
		Shape:       shape,
		Type:        Observation,
		LowerBound:  mat.NewVecDense(1, []float64{0}),
		UpperBound:  mat.NewVecDense(1, []float64{255}),
		Cardinality: Discrete,
	}
}

// IsImage returns whether the Spec describes an image observation
func (s Spec) IsImage() bool {
	return s.Type == Observation && s.Shape.Len() == 3 &&
		s.LowerBound.Len() == 1
}

// Size returns the number of values the Spec describes. Images have
// channels·height·width values.
func (s Spec) Size() int {
	if s.IsImage() {
		return int(s.Shape.AtVec(0) * s.Shape.AtVec(1) * s.Shape.AtVec(2))
	}
	return s.Shape.Len()
}

// ActionHeads returns the number of choices of each discrete action
// head
func (s Spec) ActionHeads() []int {
	if s.Cardinality != Discrete {
		return nil
	}
	heads := make([]int, s.Shape.Len())
	for i := range heads {
		heads[i] = int(s.UpperBound.AtVec(i)-s.LowerBound.AtVec(i)) + 1
	}
	return heads
}

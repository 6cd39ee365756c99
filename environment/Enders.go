package environment

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// finish marks t as the last step of its episode
func finish(t *timestep.TimeStep, end timestep.EndType) bool {
	t.StepType = timestep.Last
	t.SetEnd(end)
	return true
}

// StepLimit times out episodes once they reach a number of steps
type StepLimit struct {
	episodeSteps int
}

// NewStepLimit returns an Ender timing out episodes after episodeSteps
// steps
func NewStepLimit(episodeSteps int) StepLimit {
	return StepLimit{episodeSteps}
}

// End implements the Ender interface
func (s StepLimit) End(t *timestep.TimeStep, _ mat.Vector) bool {
	return t.Number >= s.episodeSteps && finish(t, timestep.Timeout)
}

// FunctionEnder ends episodes whenever a predicate of the environment
// state holds
type FunctionEnder struct {
	end     func(mat.Vector) bool
	endType timestep.EndType
}

// NewFunctionEnder returns an Ender ending episodes with endType when
// f returns true
func NewFunctionEnder(f func(mat.Vector) bool,
	endType timestep.EndType) *FunctionEnder {
	return &FunctionEnder{f, endType}
}

// End implements the Ender interface
func (f *FunctionEnder) End(t *timestep.TimeStep, state mat.Vector) bool {
	return f.end(state) && finish(t, f.endType)
}

// NewIntervalLimit returns an Ender ending episodes with endType as
// soon as state feature indices[i] leaves limits[i]. It panics if the
// two slices differ in length.
func NewIntervalLimit(limits []r1.Interval, indices []int,
	endType timestep.EndType) *FunctionEnder {
	if len(limits) != len(indices) {
		panic(fmt.Sprintf("newIntervalLimit: one interval per feature "+
			"\n\twant(%v)\n\thave(%v)", len(indices), len(limits)))
	}
	return NewFunctionEnder(func(state mat.Vector) bool {
		for i, limit := range limits {
			if x := state.AtVec(indices[i]); x < limit.Min || x > limit.Max {
				return true
			}
		}
		return false
	}, endType)
}

// Enders combines several Enders. The first Ender that ends an
// episode determines how it ended.
type Enders []Ender

// End implements the Ender interface
func (e Enders) End(t *timestep.TimeStep, state mat.Vector) bool {
	for _, ender := range e {
		if ender.End(t, state) {
			return true
		}
	}
	return false
}

// Package environment outlines the interfaces and structs needed to
// implement concrete environments.
//
// Environments return dictionary observations: every TimeStep holds a
// set of named arrays, such as a proprioceptive "state" vector and a
// rendered "rgb" image. Tasks work on the underlying physical state
// of an environment rather than on its observations.
package environment

import (
	"github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when episodes end. If a TimeStep ends an episode,
// End changes its StepType to timestep.Last, records how the episode
// ended and returns true.
type Ender interface {
	End(t *timestep.TimeStep, state mat.Vector) bool
}

// Task implements the reward scheme for taking actions in some
// environment
type Task interface {
	Starter
	Ender
	GetReward(state, a, nextState mat.Vector) float64
	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Reset() timestep.TimeStep // Resets between episodes
	Step(action *mat.VecDense) (timestep.TimeStep, bool)
	LastTimeStep() timestep.TimeStep

	RewardSpec() Spec
	DiscountSpec() Spec
	ObservationSpec() map[string]Spec
	ActionSpec() Spec
}

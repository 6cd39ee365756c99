// Package wrappers provides environments that wrap other environments
// to change how they behave
package wrappers

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
)

// ActionRepeat wraps an environment so that each action is repeated
// for a fixed number of environmental steps. The rewards of the
// repeated steps are summed and the observation of the last step is
// returned. Repetition stops early if the episode ends.
//
// ActionRepeat itself implements the environment.Environment
// interface, and is therefore itself an Environment.
type ActionRepeat struct {
	environment.Environment
	repeat   int
	lastStep timestep.TimeStep
}

// NewActionRepeat returns a new ActionRepeat which repeats each
// action repeat times
func NewActionRepeat(env environment.Environment, repeat int) *ActionRepeat {
	if repeat < 1 {
		panic(fmt.Sprintf("newActionRepeat: repeat must be positive "+
			"\n\twant(>0)\n\thave(%v)", repeat))
	}
	return &ActionRepeat{
		Environment: env,
		repeat:      repeat,
		lastStep:    env.LastTimeStep(),
	}
}

// Reset resets the environment between episodes
func (a *ActionRepeat) Reset() timestep.TimeStep {
	a.lastStep = a.Environment.Reset()
	return a.lastStep
}

// Step takes repeat steps in the environment with the action. The
// returned TimeStep is numbered in agent steps rather than
// environmental steps.
func (a *ActionRepeat) Step(action *mat.VecDense) (timestep.TimeStep, bool) {
	var step timestep.TimeStep
	var last bool
	var reward float64

	for i := 0; i < a.repeat && !last; i++ {
		step, last = a.Environment.Step(action)
		reward += step.Reward
	}

	step.Reward = reward
	step.Number = a.lastStep.Number + 1
	a.lastStep = step
	return step, last
}

// LastTimeStep returns the last TimeStep returned by the wrapper
func (a *ActionRepeat) LastTimeStep() timestep.TimeStep {
	return a.lastStep
}

// RewardSpec returns the reward specification of the environment,
// where bounds are scaled by the number of repeats
func (a *ActionRepeat) RewardSpec() environment.Spec {
	spec := a.Environment.RewardSpec()
	lower := mat.VecDenseCopyOf(spec.LowerBound)
	upper := mat.VecDenseCopyOf(spec.UpperBound)
	lower.ScaleVec(float64(a.repeat), lower)
	upper.ScaleVec(float64(a.repeat), upper)

	return environment.NewSpec(spec.Shape, spec.Type, lower, upper,
		spec.Cardinality)
}

func (a *ActionRepeat) String() string {
	return fmt.Sprintf("ActionRepeat(%v): %v", a.repeat, a.Environment)
}

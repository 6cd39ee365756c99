package cartpole

import (
	"math"

	env "github.com/samuelfneumann/godreamer/environment"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

// FailAngle is the default pole angle, 12°, past which the pole has
// fallen
const FailAngle float64 = 12 * math.Pi / 180

// angleIndex is the index of the pole angle in the physical state
const angleIndex = 2

// Balance rewards keeping the pole upright: +1 on every step with the
// pole within the fail angle and -1 on the step it falls. A fall ends
// the episode as terminal; the step limit ends it as a timeout.
type Balance struct {
	env.Starter
	env.Enders
	failAngle float64
}

// NewBalance returns a Balance task with episodes of at most
// episodeSteps steps
func NewBalance(s env.Starter, episodeSteps int, failAngle float64) *Balance {
	upright := []r1.Interval{{Min: -failAngle, Max: failAngle}}
	return &Balance{
		Starter: s,
		Enders: env.Enders{
			env.NewIntervalLimit(upright, []int{angleIndex}, ts.Terminal),
			env.NewStepLimit(episodeSteps),
		},
		failAngle: failAngle,
	}
}

// GetReward implements the Task interface
func (b *Balance) GetReward(_, _ mat.Vector, nextState mat.Vector) float64 {
	if math.Abs(nextState.AtVec(angleIndex)) < b.failAngle {
		return 1
	}
	return -1
}

// RewardSpec implements the Task interface
func (b *Balance) RewardSpec() env.Spec {
	return env.NewSpec(mat.NewVecDense(1, nil), env.Reward,
		mat.NewVecDense(1, []float64{-1}), mat.NewVecDense(1, []float64{1}),
		env.Continuous)
}

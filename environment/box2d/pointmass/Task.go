package pointmass

import (
	"math"

	env "github.com/samuelfneumann/godreamer/environment"
	ts "github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
)

// GoalRadius is the distance from the goal at which Reach ends
// episodes
const GoalRadius float64 = 0.25

// Reach implements the task of pushing the point mass to a goal
// position. Rewards are the negative distance to the goal. Episodes
// end terminally when the mass is within GoalRadius of the goal and
// time out after a step limit.
type Reach struct {
	env.Starter
	enders env.Enders
	goalX  float64
	goalY  float64
}

// NewReach returns a new Reach task with the goal at (x, y)
func NewReach(s env.Starter, episodeSteps int, x, y float64) *Reach {
	r := &Reach{Starter: s, goalX: x, goalY: y}
	r.enders = env.Enders{
		env.NewFunctionEnder(func(state mat.Vector) bool {
			return r.distance(state) < GoalRadius
		}, ts.Terminal),
		env.NewStepLimit(episodeSteps),
	}
	return r
}

// Goal returns the goal position
func (r *Reach) Goal() (float64, float64) {
	return r.goalX, r.goalY
}

func (r *Reach) distance(state mat.Vector) float64 {
	return math.Hypot(state.AtVec(0)-r.goalX, state.AtVec(1)-r.goalY)
}

// End determines whether an episode has ended
func (r *Reach) End(t *ts.TimeStep, state mat.Vector) bool {
	return r.enders.End(t, state)
}

// GetReward returns the negative distance of nextState to the goal
func (r *Reach) GetReward(_, _ mat.Vector, nextState mat.Vector) float64 {
	return -r.distance(nextState)
}

// RewardSpec returns the reward specification for the environment
func (r *Reach) RewardSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{-math.Sqrt2 * Size})
	upperBound := mat.NewVecDense(1, []float64{0})

	return env.NewSpec(shape, env.Reward, lowerBound, upperBound,
		env.Continuous)
}

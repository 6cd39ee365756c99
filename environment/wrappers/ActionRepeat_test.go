package wrappers

import (
	"testing"

	"github.com/samuelfneumann/godreamer/environment"
	"github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
)

// counter is an environment rewarding each step with 1 and ending
// episodes after a fixed number of steps
type counter struct {
	steps, limit int
	last         timestep.TimeStep
}

func (c *counter) obs() timestep.Observation {
	return timestep.Observation{"state": mat.NewVecDense(1,
		[]float64{float64(c.steps)})}
}

func (c *counter) Reset() timestep.TimeStep {
	c.steps = 0
	c.last = timestep.New(timestep.First, 0, 1, c.obs(), 0)
	return c.last
}

func (c *counter) Step(*mat.VecDense) (timestep.TimeStep, bool) {
	c.steps++
	c.last = timestep.New(timestep.Mid, 1, 1, c.obs(), c.steps)
	if c.steps >= c.limit {
		c.last.StepType = timestep.Last
		c.last.SetEnd(timestep.Timeout)
	}
	return c.last, c.last.Last()
}

func (c *counter) LastTimeStep() timestep.TimeStep { return c.last }

func (c *counter) spec(t environment.SpecType) environment.Spec {
	v := mat.NewVecDense(1, []float64{1})
	return environment.NewSpec(v, t, v, v, environment.Continuous)
}

func (c *counter) RewardSpec() environment.Spec   { return c.spec(environment.Reward) }
func (c *counter) DiscountSpec() environment.Spec { return c.spec(environment.Discount) }
func (c *counter) ActionSpec() environment.Spec   { return c.spec(environment.Action) }
func (c *counter) ObservationSpec() map[string]environment.Spec {
	return map[string]environment.Spec{"state": c.spec(environment.Observation)}
}

func TestActionRepeat(t *testing.T) {
	c := &counter{limit: 5}
	c.Reset()
	env := NewActionRepeat(c, 2)

	step, last := env.Step(nil)
	if step.Reward != 2 || step.Number != 1 || last {
		t.Errorf("first repeat \n\twant(reward=2, number=1)\n\thave(%v)", step)
	}
	env.Step(nil)
	step, last = env.Step(nil)
	if !last || step.Reward != 1 {
		t.Errorf("early stop \n\twant(reward=1, last)\n\thave(%v)", step)
	}
	if v := step.Observation["state"].AtVec(0); v != 5 {
		t.Errorf("observation \n\twant(5)\n\thave(%v)", v)
	}
	if r := env.RewardSpec().UpperBound.AtVec(0); r != 2 {
		t.Errorf("reward bound \n\twant(2)\n\thave(%v)", r)
	}
}

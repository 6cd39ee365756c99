package pointmass

import (
	"math"
	"testing"

	env "github.com/samuelfneumann/godreamer/environment"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

func TestPointMassMovesWithForce(t *testing.T) {
	starter := env.NewUniformStarter([]r1.Interval{{Min: 1, Max: 1},
		{Min: 1, Max: 1}}, 1)
	p, first := New(NewReach(starter, 100, 3, 3), 0.99, 12)

	x0 := first.Observation[StateKey].AtVec(0)
	var step = first
	for i := 0; i < 5; i++ {
		step, _ = p.Step(mat.NewVecDense(2, []float64{1, 0}))
	}
	if x := step.Observation[StateKey].AtVec(0); x <= x0 {
		t.Errorf("position after pushing right \n\twant(>%v)\n\thave(%v)",
			x0, x)
	}
	if want, have := 3*12*12, step.Observation[RGBKey].Len(); want != have {
		t.Errorf("image length \n\twant(%v)\n\thave(%v)", want, have)
	}

	dist := math.Hypot(step.Observation[StateKey].AtVec(0)-3,
		step.Observation[StateKey].AtVec(1)-3)
	if math.Abs(step.Reward+dist) > 1e-9 {
		t.Errorf("reward \n\twant(%v)\n\thave(%v)", -dist, step.Reward)
	}
}

func TestPointMassReachIsTerminal(t *testing.T) {
	starter := env.NewUniformStarter([]r1.Interval{{Min: 2, Max: 2},
		{Min: 2, Max: 2}}, 1)
	p, _ := New(NewReach(starter, 50, 2.1, 2), 0.99, 0)

	step, end := p.Step(mat.NewVecDense(2, nil))
	if !end || !step.Terminal() {
		t.Errorf("end inside goal radius \n\twant(terminal)\n\thave(%v)", step)
	}
}

func TestPointMassTimeout(t *testing.T) {
	starter := env.NewUniformStarter([]r1.Interval{{Min: 0.5, Max: 0.5},
		{Min: 0.5, Max: 0.5}}, 1)
	p, _ := New(NewReach(starter, 2, 3.5, 3.5), 0.99, 0)

	p.Step(mat.NewVecDense(2, nil))
	step, end := p.Step(mat.NewVecDense(2, nil))
	if !end || !step.Truncated() {
		t.Errorf("end at step limit \n\twant(truncated)\n\thave(%v)", step)
	}

	if first := p.Reset(); !first.First() || first.Number != 0 {
		t.Errorf("reset step \n\twant(first)\n\thave(%v)", first)
	}
}

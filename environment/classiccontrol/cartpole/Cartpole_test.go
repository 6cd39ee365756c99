package cartpole

import (
	"testing"

	env "github.com/samuelfneumann/godreamer/environment"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

func newCartpole(t *testing.T, imageSize, steps int) *Cartpole {
	t.Helper()
	bounds := []r1.Interval{{Min: -0.05, Max: 0.05}, {Min: -0.05, Max: 0.05},
		{Min: -0.05, Max: 0.05}, {Min: -0.05, Max: 0.05}}
	starter := env.NewUniformStarter(bounds, 1)
	c, first := New(NewBalance(starter, steps, FailAngle), 0.99, imageSize)
	if !first.First() {
		t.Fatalf("first step type \n\twant(First)\n\thave(%v)", first.StepType)
	}
	return c
}

func TestCartpoleObservations(t *testing.T) {
	c := newCartpole(t, 16, 100)
	step, _ := c.Step(mat.NewVecDense(1, []float64{2}))

	if want, have := 4, step.Observation[StateKey].Len(); want != have {
		t.Errorf("state length \n\twant(%v)\n\thave(%v)", want, have)
	}
	rgb := step.Observation[RGBKey]
	if want, have := 3*16*16, rgb.Len(); want != have {
		t.Fatalf("image length \n\twant(%v)\n\thave(%v)", want, have)
	}
	var dark bool
	for i := 0; i < rgb.Len(); i++ {
		v := rgb.AtVec(i)
		if v < 0 || v > 255 {
			t.Fatalf("pixel %v outside [0, 255]", v)
		}
		dark = dark || v < 128
	}
	if !dark {
		t.Error("rendering is blank")
	}

	specs := c.ObservationSpec()
	if !specs[RGBKey].IsImage() || specs[StateKey].IsImage() {
		t.Errorf("observation specs \n\thave(%v)", specs)
	}
}

func TestCartpoleTimeout(t *testing.T) {
	c := newCartpole(t, 0, 3)
	var last bool
	for i := 0; i < 3 && !last; i++ {
		// Alternate pushes to keep the pole upright
		step, end := c.Step(mat.NewVecDense(1, []float64{float64(2 * (i % 2))}))
		last = end
		if end && !step.Truncated() {
			t.Errorf("end type \n\twant(truncated)\n\thave(%v)", step)
		}
	}
	if !last {
		t.Error("episode did not end at the step limit")
	}
}

func TestCartpoleFallIsTerminal(t *testing.T) {
	c := newCartpole(t, 0, 10000)
	for i := 0; i < 10000; i++ {
		step, end := c.Step(mat.NewVecDense(1, []float64{2}))
		if end {
			if !step.Terminal() {
				t.Errorf("end type \n\twant(terminal)\n\thave(%v)", step)
			}
			if step.Reward != -1 {
				t.Errorf("fall reward \n\twant(-1)\n\thave(%v)", step.Reward)
			}
			return
		}
	}
	t.Error("pole never fell")
}

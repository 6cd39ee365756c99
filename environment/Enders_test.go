package environment

import (
	"testing"

	"github.com/samuelfneumann/godreamer/timestep"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
)

func newStep(n int) timestep.TimeStep {
	obs := timestep.Observation{"state": mat.NewVecDense(1, nil)}
	return timestep.New(timestep.Mid, 0, 1, obs, n)
}

func TestStepLimitTimesOut(t *testing.T) {
	limit := NewStepLimit(3)

	step := newStep(2)
	if limit.End(&step, nil) {
		t.Fatal("episode ended before step limit")
	}

	step = newStep(3)
	if !limit.End(&step, nil) {
		t.Fatal("episode did not end at step limit")
	}
	if !step.Truncated() || step.Terminal() {
		t.Errorf("step limit end type \n\twant(truncated)\n\thave(%v)", step)
	}
}

func TestIntervalLimitTerminates(t *testing.T) {
	limit := NewIntervalLimit([]r1.Interval{{Min: -1, Max: 1}}, []int{1},
		timestep.Terminal)

	step := newStep(1)
	if limit.End(&step, mat.NewVecDense(2, []float64{5, 0.5})) {
		t.Fatal("episode ended inside interval")
	}
	if !limit.End(&step, mat.NewVecDense(2, []float64{0, 1.5})) {
		t.Fatal("episode did not end outside interval")
	}
	if !step.Terminal() {
		t.Errorf("interval end type \n\twant(terminal)\n\thave(%v)", step)
	}
}

func TestEndersFirstWins(t *testing.T) {
	enders := Enders{
		NewFunctionEnder(func(s mat.Vector) bool { return s.AtVec(0) > 0 },
			timestep.Terminal),
		NewStepLimit(1),
	}

	step := newStep(5)
	if !enders.End(&step, mat.NewVecDense(1, []float64{1})) {
		t.Fatal("episode did not end")
	}
	if !step.Terminal() {
		t.Errorf("end type \n\twant(terminal)\n\thave(%v)", step)
	}

	step = newStep(5)
	enders.End(&step, mat.NewVecDense(1, []float64{-1}))
	if !step.Truncated() {
		t.Errorf("end type \n\twant(truncated)\n\thave(%v)", step)
	}
}

func TestUniformStarterBounds(t *testing.T) {
	bounds := []r1.Interval{{Min: 1, Max: 2}, {Min: -3, Max: -2}}
	starter := NewUniformStarter(bounds, 7)
	for i := 0; i < 100; i++ {
		s := starter.Start()
		for j, b := range bounds {
			if v := s.AtVec(j); v < b.Min || v > b.Max {
				t.Fatalf("start %v outside %v", v, b)
			}
		}
	}
}

func TestSpecActionHeads(t *testing.T) {
	spec := NewSpec(mat.NewVecDense(2, nil), Action,
		mat.NewVecDense(2, nil), mat.NewVecDense(2, []float64{2, 1}), Discrete)
	heads := spec.ActionHeads()
	if len(heads) != 2 || heads[0] != 3 || heads[1] != 2 {
		t.Errorf("action heads \n\twant([3 2])\n\thave(%v)", heads)
	}

	image := NewImageSpec(3, 8, 8)
	if !image.IsImage() || image.Size() != 192 {
		t.Errorf("image spec size \n\twant(192)\n\thave(%v)", image.Size())
	}
}

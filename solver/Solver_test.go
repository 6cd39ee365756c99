package solver

import (
	"encoding/json"
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestNew(t *testing.T) {
	tests := []struct {
		t    Type
		want Config
	}{
		{Adam, AdamConfig{StepSize: 0.1, Epsilon: 1e-5, Beta1: 0.9,
			Beta2: 0.999, Batch: 1, Clip: 100}},
		{RMSProp, RMSPropConfig{StepSize: 0.1, Epsilon: 1e-5, Eta: 0.001,
			Rho: 0.999, Batch: 1, Clip: 100}},
		{Vanilla, VanillaConfig{StepSize: 0.1, Batch: 1, Clip: 100}},
	}
	for _, test := range tests {
		s, err := New(test.t, 0.1, 1e-5, 100)
		if err != nil {
			t.Fatal(err)
		}
		if s.Type != test.t || s.Config != test.want {
			t.Errorf("solver %v \n\twant(%+v)\n\thave(%+v)", test.t, test.want,
				s.Config)
		}
	}

	if _, err := New("SGDR", 0.1, 1e-5, 0); err == nil {
		t.Error("expected error for unknown solver type")
	}
	if _, err := newSolver(Adam, VanillaConfig{}); err == nil {
		t.Error("expected error for mismatched solver configuration")
	}
}

func TestSolverJSON(t *testing.T) {
	s, err := New(RMSProp, 3e-4, 1e-8, 1000)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var loaded Solver
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Type != s.Type || loaded.Config != s.Config {
		t.Errorf("unmarshalled solver \n\twant(%v %+v)\n\thave(%v %+v)",
			s.Type, s.Config, loaded.Type, loaded.Config)
	}
	if loaded.Solver == nil {
		t.Error("unmarshalled solver has no Gorgonia solver")
	}

	if err := json.Unmarshal([]byte(`{"Type": "SGDR"}`), &loaded); err == nil {
		t.Error("expected error for unknown solver type")
	}
}

func TestVanillaStep(t *testing.T) {
	s, err := New(Vanilla, 0.1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	clone := s.Clone()
	if clone.Config != s.Config || clone.Solver == s.Solver {
		t.Error("clone must share the configuration but not the solver")
	}

	// Minimizing x² from x = 2 moves x by -0.1 · 2x
	g := G.NewGraph()
	x := G.NewVector(g, tensor.Float64, G.WithShape(1), G.WithName("x"),
		G.WithValue(tensor.New(tensor.WithShape(1),
			tensor.WithBacking([]float64{2}))))
	loss := G.Must(G.Sum(G.Must(G.Square(x))))
	if _, err := G.Grad(loss, x); err != nil {
		t.Fatal(err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(x))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	if err := s.Step(G.NodesToValueGrads(G.Nodes{x})); err != nil {
		t.Fatal(err)
	}

	have := x.Value().Data().([]float64)[0]
	if math.Abs(have-1.6) > 1e-12 {
		t.Errorf("x after step \n\twant(1.6)\n\thave(%v)", have)
	}
}

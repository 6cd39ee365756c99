package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// AdamConfig configures an Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64
	Beta1    float64
	Beta2    float64
	Batch    int
	Clip     float64 // <= 0 disables clipping
}

// RMSPropConfig configures an RMSProp solver. Gorgonia only supports
// η = 0.001.
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64
	Eta      float64
	Rho      float64
	Batch    int
	Clip     float64
}

// VanillaConfig configures stochastic gradient descent
type VanillaConfig struct {
	StepSize float64
	Batch    int
	Clip     float64
}

// NewAdam returns a new Adam solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64, batch int,
	clip float64) (*Solver, error) {
	return newSolver(Adam, AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batch,
		Clip:     clip,
	})
}

// NewRMSProp returns a new RMSProp solver
func NewRMSProp(stepSize, epsilon, eta, rho float64, batch int,
	clip float64) (*Solver, error) {
	if eta != 0.001 {
		return nil, fmt.Errorf("newRMSProp: unsupported η \n\twant(0.001)"+
			"\n\thave(%v)", eta)
	}
	return newSolver(RMSProp, RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Eta:      eta,
		Rho:      rho,
		Batch:    batch,
		Clip:     clip,
	})
}

// NewVanilla returns a new stochastic gradient descent solver
func NewVanilla(stepSize float64, batch int, clip float64) (*Solver,
	error) {
	return newSolver(Vanilla, VanillaConfig{
		StepSize: stepSize,
		Batch:    batch,
		Clip:     clip,
	})
}

// options returns the solver options shared by every configuration
func options(stepSize float64, batch int, clip float64) []G.SolverOpt {
	opts := []G.SolverOpt{
		G.WithLearnRate(stepSize),
		G.WithBatchSize(float64(batch)),
	}
	if clip > 0 {
		opts = append(opts, G.WithClip(clip))
	}
	return opts
}

// Create implements the Config interface
func (a AdamConfig) Create() G.Solver {
	return G.NewAdamSolver(append(options(a.StepSize, a.Batch, a.Clip),
		G.WithEps(a.Epsilon), G.WithBeta1(a.Beta1), G.WithBeta2(a.Beta2))...)
}

// Create implements the Config interface
func (r RMSPropConfig) Create() G.Solver {
	return G.NewRMSPropSolver(append(options(r.StepSize, r.Batch, r.Clip),
		G.WithEps(r.Epsilon), G.WithRho(r.Rho))...)
}

// Create implements the Config interface
func (v VanillaConfig) Create() G.Solver {
	return G.NewVanillaSolver(options(v.StepSize, v.Batch, v.Clip)...)
}

func (AdamConfig) ValidType(t Type) bool    { return t == Adam }
func (RMSPropConfig) ValidType(t Type) bool { return t == RMSProp }
func (VanillaConfig) ValidType(t Type) bool { return t == Vanilla }

// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuraiton files.
package solver

import (
	"fmt"
	"reflect"

	"github.com/samuelfneumann/godreamer/utils/configutils"
	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// New returns a solver of type t with default hyperparameters apart
// from the step size and gradient clipping value. A clip <= 0 disables
// clipping.
func New(t Type, stepSize, epsilon, clip float64) (*Solver, error) {
	switch t {
	case Adam:
		return NewAdam(stepSize, epsilon, 0.9, 0.999, 1, clip)
	case RMSProp:
		return NewRMSProp(stepSize, epsilon, 0.001, 0.999, 1, clip)
	case Vanilla:
		return NewVanilla(stepSize, 1, clip)
	default:
		return nil, fmt.Errorf("new: unknown solver type %v", t)
	}
}

// Clone returns a fresh solver with the same configuration. Optimizer
// statistics are not copied.
func (s *Solver) Clone() *Solver {
	return &Solver{Solver: s.Config.Create(), Type: s.Type, Config: s.Config}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, name, err := configutils.DecodeTyped(data, map[string]reflect.Type{
		string(Adam):    reflect.TypeOf(AdamConfig{}),
		string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		string(Vanilla): reflect.TypeOf(VanillaConfig{}),
	})
	if err != nil {
		return err
	}

	s.Type = Type(name)
	s.Config = config.(Config)
	s.Solver = s.Config.Create()
	return nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}

package network

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	G "gorgonia.org/gorgonia"
)

type activationType string

const (
	relu     activationType = "relu"
	identity activationType = "identity"
	tanh     activationType = "tanh"
	sigmoid  activationType = "sigmoid"
	silu     activationType = "silu"
	elu      activationType = "elu"
)

// Activation represents an activation function type. Each activation
// has a graph form, used when computing losses, and a numeric form,
// used when acting.
type Activation struct {
	activationType
	f       func(x *G.Node) (*G.Node, error)
	numeric func(float64) float64
}

// Fwd performs the forward pass of an Activation in a graph
func (a *Activation) Fwd(x *G.Node) (*G.Node, error) {
	return a.f(x)
}

// Apply computes the Activation of a single value
func (a *Activation) Apply(x float64) float64 {
	return a.numeric(x)
}

// String implements the Stringer interface
func (a *Activation) String() string {
	return string(a.activationType)
}

// IsIdentity returns whether or not the Activation is the identity
// function.
func (a *Activation) IsIdentity() bool {
	return a.activationType == identity
}

// ActivationByName returns the Activation with the given name. Names
// follow the lower-case module names of common deep learning
// libraries, e.g. "relu", "silu" or "tanh".
func ActivationByName(name string) (*Activation, error) {
	switch activationType(name) {
	case relu:
		return ReLU(), nil
	case identity:
		return Identity(), nil
	case tanh:
		return TanH(), nil
	case sigmoid:
		return Sigmoid(), nil
	case silu:
		return SiLU(), nil
	case elu:
		return ELU(), nil
	default:
		return nil, fmt.Errorf("activationByName: illegal activation %q",
			name)
	}
}

// GobEncode implements the GobEncoder interface
func (a *Activation) GobEncode() ([]byte, error) {
	return []byte(a.activationType), nil
}

// GobDecode implements the GobDecoder interface
func (a *Activation) GobDecode(encoded []byte) error {
	decoded, err := ActivationByName(string(encoded))
	if err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}
	*a = *decoded
	return nil
}

// Identity returns an identity *Activation
func Identity() *Activation {
	return &Activation{
		activationType: identity,
		f: func(x *G.Node) (*G.Node, error) {
			return x, nil
		},
		numeric: func(x float64) float64 { return x },
	}
}

// ReLU returns a ReLU *Activation
func ReLU() *Activation {
	return &Activation{
		activationType: relu,
		f:              G.Rectify,
		numeric:        func(x float64) float64 { return math.Max(x, 0) },
	}
}

// TanH returns a tanh *Activation
func TanH() *Activation {
	return &Activation{
		activationType: tanh,
		f:              G.Tanh,
		numeric:        math.Tanh,
	}
}

// Sigmoid returns a logistic *Activation
func Sigmoid() *Activation {
	return &Activation{
		activationType: sigmoid,
		f:              G.Sigmoid,
		numeric:        floatutils.Sigmoid,
	}
}

// SiLU returns a SiLU (swish) *Activation
func SiLU() *Activation {
	return &Activation{
		activationType: silu,
		f: func(x *G.Node) (*G.Node, error) {
			return op.SiLU(x), nil
		},
		numeric: func(x float64) float64 { return x * floatutils.Sigmoid(x) },
	}
}

// ELU returns an ELU *Activation with α = 1
func ELU() *Activation {
	return &Activation{
		activationType: elu,
		f: func(x *G.Node) (*G.Node, error) {
			return op.ELU(x), nil
		},
		numeric: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return math.Expm1(x)
		},
	}
}

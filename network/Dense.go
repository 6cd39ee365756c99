package network

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/initwfn"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// Dense is a hidden layer: a fully connected layer, an optional
// LayerNorm and an activation. The fully connected layer has no bias
// when followed by a LayerNorm, which supplies its own shift.
type Dense struct {
	fc   *FC
	norm *LayerNorm
	act  *Activation
}

// NewDense returns a new hidden layer
func NewDense(name string, in, out int, layerNorm bool, act *Activation,
	init *initwfn.InitWFn) (*Dense, error) {
	fc, err := NewFC(name, in, out, !layerNorm, init)
	if err != nil {
		return nil, err
	}
	d := &Dense{fc: fc, act: act}
	if layerNorm {
		d.norm = NewLayerNorm(name+"/norm", out)
	}
	return d, nil
}

// Init registers the parameters of the layer
func (d *Dense) Init(p *Params) error {
	if err := d.fc.Init(p); err != nil {
		return err
	}
	if d.norm != nil {
		return d.norm.Init(p)
	}
	return nil
}

// OutputDim returns the number of output features
func (d *Dense) OutputDim() int {
	return d.fc.Out
}

// Forward computes the layer numerically
func (d *Dense) Forward(v View, x *mat.Dense) *mat.Dense {
	out := d.fc.Forward(v, x)
	if d.norm != nil {
		out = d.norm.Forward(v, out)
	}
	out.Apply(func(_, _ int, val float64) float64 {
		return d.act.Apply(val)
	}, out)
	return out
}

// Fwd adds the forward pass of the layer to the computational graph
func (d *Dense) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	out, err := d.fc.Fwd(b, x)
	if err != nil {
		return nil, err
	}
	if d.norm != nil {
		if out, err = d.norm.Fwd(b, out); err != nil {
			return nil, err
		}
	}
	return d.act.Fwd(out)
}

// MLP is a stack of hidden Dense layers of equal width. The MLP has
// no output layer; heads add their own.
type MLP struct {
	layers []*Dense
	in     int
}

// NewMLP returns a new MLP with the given number of layers and units.
// An MLP with zero layers is the identity.
func NewMLP(name string, in, units, layers int, layerNorm bool,
	act *Activation, init *initwfn.InitWFn) (*MLP, error) {
	if layers < 0 {
		return nil, fmt.Errorf("newMLP: %v must have a non-negative number "+
			"of layers \n\thave(%v)", name, layers)
	}
	if layers > 0 && units <= 0 {
		return nil, fmt.Errorf("newMLP: %v must have positive width "+
			"\n\twant(>0)\n\thave(%v)", name, units)
	}

	m := &MLP{in: in}
	for i := 0; i < layers; i++ {
		layerIn := units
		if i == 0 {
			layerIn = in
		}
		layer, err := NewDense(fmt.Sprintf("%v/%d", name, i), layerIn,
			units, layerNorm, act, init)
		if err != nil {
			return nil, fmt.Errorf("newMLP: %v", err)
		}
		m.layers = append(m.layers, layer)
	}
	return m, nil
}

// Init registers the parameters of all layers
func (m *MLP) Init(p *Params) error {
	for _, layer := range m.layers {
		if err := layer.Init(p); err != nil {
			return err
		}
	}
	return nil
}

// OutputDim returns the number of output features
func (m *MLP) OutputDim() int {
	if len(m.layers) == 0 {
		return m.in
	}
	return m.layers[len(m.layers)-1].OutputDim()
}

// Forward computes the MLP numerically
func (m *MLP) Forward(v View, x *mat.Dense) *mat.Dense {
	for _, layer := range m.layers {
		x = layer.Forward(v, x)
	}
	return x
}

// Fwd adds the forward pass of the MLP to the computational graph
func (m *MLP) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	var err error
	for _, layer := range m.layers {
		if x, err = layer.Fwd(b, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}

package initwfn

import G "gorgonia.org/gorgonia"

// GlorotUConfig draws weights uniformly from ±gain·√(6/(fanIn+fanOut))
type GlorotUConfig struct {
	Gain float64
}

// GlorotNConfig draws weights from a zero-mean normal with standard
// deviation gain·√(2/(fanIn+fanOut))
type GlorotNConfig struct {
	Gain float64
}

// ConstantConfig fills every weight with Value
type ConstantConfig struct {
	Value float64
}

// ZeroesConfig fills every weight with 0. Biases and the output layers
// of the reward and critic heads start from it.
type ZeroesConfig struct{}

// OnesConfig fills every weight with 1. LayerNorm gains start from it.
type OnesConfig struct{}

// NewGlorotU returns a Glorot uniform initializer
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotUConfig{Gain: gain})
}

// NewGlorotN returns a Glorot normal initializer
func NewGlorotN(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotNConfig{Gain: gain})
}

// NewConstant returns an initializer filling every weight with value
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{Value: value})
}

// NewZeroes returns an initializer filling every weight with 0
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(ZeroesConfig{})
}

// NewOnes returns an initializer filling every weight with 1
func NewOnes() (*InitWFn, error) {
	return newInitWFn(OnesConfig{})
}

func (GlorotUConfig) Type() Type  { return GlorotU }
func (GlorotNConfig) Type() Type  { return GlorotN }
func (ConstantConfig) Type() Type { return Constant }
func (ZeroesConfig) Type() Type   { return Zeroes }
func (OnesConfig) Type() Type     { return Ones }

func (g GlorotUConfig) Create() G.InitWFn  { return G.GlorotU(g.Gain) }
func (g GlorotNConfig) Create() G.InitWFn  { return G.GlorotN(g.Gain) }
func (c ConstantConfig) Create() G.InitWFn { return G.ValuesOf(c.Value) }
func (ZeroesConfig) Create() G.InitWFn     { return G.Zeroes() }
func (OnesConfig) Create() G.InitWFn       { return G.Ones() }

// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be JSON serialized into configuraiton files.
package initwfn

import (
	"fmt"
	"reflect"

	"github.com/samuelfneumann/godreamer/utils/configutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
)

var configTypes = map[string]reflect.Type{
	string(GlorotU):  reflect.TypeOf(GlorotUConfig{}),
	string(GlorotN):  reflect.TypeOf(GlorotNConfig{}),
	string(Zeroes):   reflect.TypeOf(ZeroesConfig{}),
	string(Ones):     reflect.TypeOf(OnesConfig{}),
	string(Constant): reflect.TypeOf(ConstantConfig{}),
}

// InitWFn wraps Gorgonia InitWFn so that they can be JSON marshalled and
// unmarshalled.
type InitWFn struct {
	initWFn G.InitWFn
	Type
	Config
}

// newInitWFn returns a new InitWFn
func newInitWFn(c Config) (*InitWFn, error) {
	init := InitWFn{Type: c.Type(), Config: c}
	init.initWFn = init.Config.Create()

	return &init, nil
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (w *InitWFn) InitWFn() G.InitWFn {
	return w.initWFn
}

// Tensor returns a new Float64 tensor of the given shape filled by the
// initializer
func (w *InitWFn) Tensor(shape ...int) *tensor.Dense {
	backing := w.initWFn(tensor.Float64, shape...).([]float64)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	config, name, err := configutils.DecodeTyped(data, configTypes)
	if err != nil {
		return err
	}

	i.Type = Type(name)
	i.Config = config.(Config)
	i.initWFn = i.Config.Create()
	return nil
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

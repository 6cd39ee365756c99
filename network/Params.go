package network

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samuelfneumann/godreamer/initwfn"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// View is an immutable snapshot of a parameter set. Every numeric
// forward pass reads its weights from a single View, so a concurrent
// update of the underlying Params is never observed half-applied.
type View map[string]*tensor.Dense

// Matrix returns the named parameter as a matrix sharing the
// parameter's backing data. 1-dimensional parameters are returned as
// a single row. The returned matrix must not be modified.
func (v View) Matrix(name string) *mat.Dense {
	t, ok := v[name]
	if !ok {
		panic(fmt.Sprintf("matrix: no parameter named %v", name))
	}
	data := t.Data().([]float64)
	shape := t.Shape()
	switch len(shape) {
	case 1:
		return mat.NewDense(1, shape[0], data)
	case 2:
		return mat.NewDense(shape[0], shape[1], data)
	default:
		rows := shape[0]
		return mat.NewDense(rows, len(data)/rows, data)
	}
}

// Raw returns the backing data of the named parameter
func (v View) Raw(name string) []float64 {
	t, ok := v[name]
	if !ok {
		panic(fmt.Sprintf("raw: no parameter named %v", name))
	}
	return t.Data().([]float64)
}

// Params is a named, ordered set of Float64 parameter tensors. Params
// is safe for concurrent use: writers replace the whole set atomically
// and readers obtain consistent snapshots through View.
type Params struct {
	mu     sync.RWMutex
	names  []string
	values View
}

// NewParams returns an empty parameter set
func NewParams() *Params {
	return &Params{values: View{}}
}

// Add registers a new parameter initialized by init
func (p *Params) Add(name string, init *initwfn.InitWFn,
	shape ...int) error {
	return p.AddTensor(name, init.Tensor(shape...))
}

// AddTensor registers a new parameter with the given value
func (p *Params) AddTensor(name string, t *tensor.Dense) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.values[name]; ok {
		return fmt.Errorf("add: parameter %v already exists", name)
	}

	next := make(View, len(p.values)+1)
	for k, v := range p.values {
		next[k] = v
	}
	next[name] = t
	p.values = next
	p.names = append(p.names, name)
	return nil
}

// View returns a consistent snapshot of the parameters
func (p *Params) View() View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values
}

// Names returns the parameter names in registration order
func (p *Params) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.names))
	copy(names, p.names)
	return names
}

// Len returns the number of parameters
func (p *Params) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.names)
}

// Size returns the total number of scalar parameters
func (p *Params) Size() int {
	v := p.View()
	var size int
	for _, t := range v {
		size += t.Shape().TotalSize()
	}
	return size
}

// Clone returns a deep copy of the parameters
func (p *Params) Clone() *Params {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := &Params{
		names:  make([]string, len(p.names)),
		values: make(View, len(p.values)),
	}
	copy(out.names, p.names)
	for k, v := range p.values {
		out.values[k] = v.Clone().(*tensor.Dense)
	}
	return out
}

// Update replaces the values of the named parameters with copies of
// the given tensors
func (p *Params) Update(values map[string]*tensor.Dense) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(View, len(p.values))
	for k, v := range p.values {
		next[k] = v
	}
	for name, value := range values {
		old, ok := next[name]
		if !ok {
			return fmt.Errorf("update: no parameter named %v", name)
		}
		if !old.Shape().Eq(value.Shape()) {
			return fmt.Errorf("update: illegal shape for %v \n\twant(%v)"+
				"\n\thave(%v)", name, old.Shape(), value.Shape())
		}
		next[name] = value.Clone().(*tensor.Dense)
	}
	p.values = next
	return nil
}

// Set sets the values of p to equal the values of source
func Set(p, source *Params) error {
	if err := compatible(p, source); err != nil {
		return fmt.Errorf("set: %v", err)
	}
	return p.Update(source.View())
}

// Polyak replaces every parameter with τ·source + (1-τ)·p. The new
// values are computed off to the side and swapped in under a single
// write lock, so readers see either all old or all new values.
func Polyak(p, source *Params, tau float64) error {
	if err := compatible(p, source); err != nil {
		return fmt.Errorf("polyak: %v", err)
	}
	if tau < 0 || tau > 1 {
		return fmt.Errorf("polyak: τ must be in [0, 1] \n\thave(%v)", tau)
	}

	src := source.View()
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(View, len(p.values))
	for name, target := range p.values {
		if tau == 1 {
			next[name] = src[name].Clone().(*tensor.Dense)
			continue
		}
		t := target.Data().([]float64)
		s := src[name].Data().([]float64)
		out := make([]float64, len(t))
		for i := range out {
			out[i] = tau*s[i] + (1-tau)*t[i]
		}
		next[name] = tensor.New(tensor.WithShape(target.Shape()...),
			tensor.WithBacking(out))
	}
	p.values = next
	return nil
}

func compatible(p, source *Params) error {
	if p == source {
		return nil
	}
	pv, sv := p.View(), source.View()
	if len(pv) != len(sv) {
		return fmt.Errorf("parameter counts differ \n\twant(%v)\n\thave(%v)",
			len(pv), len(sv))
	}
	for name, t := range pv {
		s, ok := sv[name]
		if !ok {
			return fmt.Errorf("source missing parameter %v", name)
		}
		if !t.Shape().Eq(s.Shape()) {
			return fmt.Errorf("shapes differ for %v \n\twant(%v)\n\thave(%v)",
				name, t.Shape(), s.Shape())
		}
	}
	return nil
}

// String implements the fmt.Stringer interface
func (p *Params) String() string {
	v := p.View()
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Params{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v:%v", name, v[name].Shape())
	}
	b.WriteString("}")
	return b.String()
}

type gobParam struct {
	Name  string
	Shape []int
	Data  []float64
}

// GobEncode implements the gob.GobEncoder interface
func (p *Params) GobEncode() ([]byte, error) {
	p.mu.RLock()
	params := make([]gobParam, len(p.names))
	for i, name := range p.names {
		t := p.values[name]
		params[i] = gobParam{
			Name:  name,
			Shape: []int(t.Shape().Clone()),
			Data:  t.Data().([]float64),
		}
	}
	p.mu.RUnlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(params); err != nil {
		return nil, fmt.Errorf("gobEncode: could not encode parameters: %v",
			err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (p *Params) GobDecode(in []byte) error {
	var params []gobParam
	dec := gob.NewDecoder(bytes.NewReader(in))
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("gobDecode: could not decode parameters: %v", err)
	}

	names := make([]string, len(params))
	values := make(View, len(params))
	for i, param := range params {
		names[i] = param.Name
		values[param.Name] = tensor.New(tensor.WithShape(param.Shape...),
			tensor.WithBacking(param.Data))
	}

	p.mu.Lock()
	p.names = names
	p.values = values
	p.mu.Unlock()
	return nil
}

package network

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/initwfn"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// FC implements a fully connected layer y = xW + b. The weights are
// stored under Name+"/W" and the bias under Name+"/b".
type FC struct {
	Name    string
	In, Out int
	Bias    bool

	WeightInit *initwfn.InitWFn
	BiasInit   *initwfn.InitWFn
}

// NewFC returns a new fully connected layer
func NewFC(name string, in, out int, bias bool,
	weightInit *initwfn.InitWFn) (*FC, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("newFC: layer %v must have positive size "+
			"\n\twant(>0)\n\thave(in=%v, out=%v)", name, in, out)
	}
	zeroes, _ := initwfn.NewZeroes()
	return &FC{
		Name:       name,
		In:         in,
		Out:        out,
		Bias:       bias,
		WeightInit: weightInit,
		BiasInit:   zeroes,
	}, nil
}

// Init registers the parameters of the layer
func (f *FC) Init(p *Params) error {
	if err := p.Add(f.weights(), f.WeightInit, f.In, f.Out); err != nil {
		return err
	}
	if f.Bias {
		return p.Add(f.bias(), f.BiasInit, 1, f.Out)
	}
	return nil
}

func (f *FC) weights() string { return f.Name + "/W" }
func (f *FC) bias() string    { return f.Name + "/b" }

// OutputDim returns the number of output features
func (f *FC) OutputDim() int {
	return f.Out
}

// Forward computes xW + b
func (f *FC) Forward(v View, x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	if c != f.In {
		panic(fmt.Sprintf("forward: illegal input size for %v \n\twant(%v)"+
			"\n\thave(%v)", f.Name, f.In, c))
	}
	out := mat.NewDense(r, f.Out, nil)
	out.Mul(x, v.Matrix(f.weights()))
	if f.Bias {
		bias := v.Raw(f.bias())
		for i := 0; i < r; i++ {
			row := out.RawRowView(i)
			for j := range row {
				row[j] += bias[j]
			}
		}
	}
	return out
}

// Fwd adds the forward pass of the layer to the computational graph
func (f *FC) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	out, err := G.Mul(x, b.Node(f.weights()))
	if err != nil {
		return nil, fmt.Errorf("fwd: %v: %v", f.Name, err)
	}
	if !f.Bias {
		return out, nil
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	return G.BroadcastAdd(out, b.Node(f.bias()), nil, []byte{0})
}

package network

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/initwfn"
	"github.com/samuelfneumann/godreamer/utils/op"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// LayerNorm normalizes every row of its input to zero mean and unit
// variance, then applies a learned per-feature scale and shift.
type LayerNorm struct {
	Name string
	Dim  int
	Eps  float64
}

// NewLayerNorm returns a new LayerNorm over dim features
func NewLayerNorm(name string, dim int) *LayerNorm {
	return &LayerNorm{Name: name, Dim: dim, Eps: 1e-3}
}

// Init registers the scale (ones) and shift (zeroes) parameters
func (l *LayerNorm) Init(p *Params) error {
	ones, _ := initwfn.NewOnes()
	zeroes, _ := initwfn.NewZeroes()
	if err := p.Add(l.Name+"/gamma", ones, 1, l.Dim); err != nil {
		return err
	}
	return p.Add(l.Name+"/beta", zeroes, 1, l.Dim)
}

// OutputDim returns the number of output features
func (l *LayerNorm) OutputDim() int {
	return l.Dim
}

// Forward normalizes x numerically
func (l *LayerNorm) Forward(v View, x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	if c != l.Dim {
		panic(fmt.Sprintf("forward: illegal input size for %v \n\twant(%v)"+
			"\n\thave(%v)", l.Name, l.Dim, c))
	}
	gamma, beta := v.Raw(l.Name+"/gamma"), v.Raw(l.Name+"/beta")

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		in := x.RawRowView(i)
		var mean, variance float64
		for _, val := range in {
			mean += val
		}
		mean /= float64(c)
		for _, val := range in {
			variance += (val - mean) * (val - mean)
		}
		variance /= float64(c)
		std := math.Sqrt(variance + l.Eps)

		row := out.RawRowView(i)
		for j, val := range in {
			row[j] = (val-mean)/std*gamma[j] + beta[j]
		}
	}
	return out
}

// Fwd adds the normalization to the computational graph
func (l *LayerNorm) Fwd(b *Binder, x *G.Node) (*G.Node, error) {
	mean, err := G.Mean(x, 1)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v: %v", l.Name, err)
	}
	centred := G.Must(G.BroadcastSub(x, mean, nil, []byte{1}))
	variance := G.Must(G.Mean(G.Must(G.Square(centred)), 1))
	std := G.Must(G.Sqrt(op.AddConst(variance, l.Eps)))
	normed := G.Must(G.BroadcastHadamardDiv(centred, std, nil, []byte{1}))

	scaled := G.Must(G.BroadcastHadamardProd(normed, b.Node(l.Name+"/gamma"),
		nil, []byte{0}))
	return G.BroadcastAdd(scaled, b.Node(l.Name+"/beta"), nil, []byte{0})
}

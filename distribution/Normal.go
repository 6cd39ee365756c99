package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// tanhEps keeps the tanh change of variables away from ±1
const tanhEps = 1e-6

var halfLog2Pi = 0.5 * math.Log(2*math.Pi)

// Normal is a diagonal Gaussian over the columns of a matrix
type Normal struct{}

// Sample draws mean + std·ε and returns both the sample and ε
func (Normal) Sample(mean, std *mat.Dense, rng *rand.Rand) (sample,
	noise *mat.Dense) {
	mustMatch("sample", mean, std)
	r, c := mean.Dims()
	sample, noise = mat.NewDense(r, c, nil), mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			eps := rng.NormFloat64()
			noise.Set(i, j, eps)
			sample.Set(i, j, mean.At(i, j)+std.At(i, j)*eps)
		}
	}
	return
}

// LogProb returns the log-density of each row of x
func (Normal) LogProb(mean, std, x *mat.Dense) []float64 {
	mustMatch("logProb", mean, x)
	mustMatch("logProb", std, x)
	r, c := x.Dims()
	out := make([]float64, r)
	for i := range out {
		for j := 0; j < c; j++ {
			z := (x.At(i, j) - mean.At(i, j)) / std.At(i, j)
			out[i] += -0.5*z*z - math.Log(std.At(i, j)) - halfLog2Pi
		}
	}
	return out
}

// Entropy returns the entropy of each row
func (Normal) Entropy(std *mat.Dense) []float64 {
	r, c := std.Dims()
	out := make([]float64, r)
	for i := range out {
		for j := 0; j < c; j++ {
			out[i] += 0.5 + halfLog2Pi + math.Log(std.At(i, j))
		}
	}
	return out
}

// LogProbNode returns the log-density of each row of x in a graph
func (Normal) LogProbNode(mean, std, x *G.Node) *G.Node {
	return op.GaussianLogPdf(mean, std, x)
}

// EntropyNode returns the entropy of each row in a graph
func (Normal) EntropyNode(std *G.Node) (*G.Node, error) {
	dims := float64(std.Shape()[1])
	logStd, err := G.Log(std)
	if err != nil {
		return nil, fmt.Errorf("entropyNode: %v", err)
	}
	return op.AddConst(G.Must(G.Sum(logStd, 1)), dims*(0.5+halfLog2Pi)), nil
}

// TanhNormal is a diagonal Gaussian squashed through tanh, bounded to
// (-1, 1)
type TanhNormal struct{}

// Sample draws tanh(mean + std·ε) and returns the sample and ε
func (TanhNormal) Sample(mean, std *mat.Dense, rng *rand.Rand) (sample,
	noise *mat.Dense) {
	pre, noise := Normal{}.Sample(mean, std, rng)
	pre.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, pre)
	return pre, noise
}

// LogProb returns the log-density of each row of the squashed sample x
func (TanhNormal) LogProb(mean, std, x *mat.Dense) []float64 {
	r, c := x.Dims()
	pre := mat.NewDense(r, c, nil)
	jacobian := make([]float64, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a := math.Max(-1+tanhEps, math.Min(1-tanhEps, x.At(i, j)))
			pre.Set(i, j, math.Atanh(a))
			jacobian[i] += math.Log(1 - a*a + tanhEps)
		}
	}
	out := Normal{}.LogProb(mean, std, pre)
	for i := range out {
		out[i] -= jacobian[i]
	}
	return out
}

// PreTanh returns atanh of the clipped squashed sample x, the Gaussian
// variable that produced it
func (TanhNormal) PreTanh(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			a := math.Max(-1+tanhEps, math.Min(1-tanhEps, x.At(i, j)))
			out.Set(i, j, math.Atanh(a))
		}
	}
	return out
}

// SampleNode returns the reparameterized squashed sample
// tanh(mean + std·noise) in a graph
func (TanhNormal) SampleNode(mean, std, noise *G.Node) (*G.Node, error) {
	pre, err := G.HadamardProd(std, noise)
	if err != nil {
		return nil, fmt.Errorf("sampleNode: %v", err)
	}
	return G.Tanh(G.Must(G.Add(mean, pre)))
}

// LogProbNode returns the log-density of the squashed sample in a
// graph. The pre-tanh value and the squashed value are both given so
// that either may be a constant.
func (TanhNormal) LogProbNode(mean, std, pre, squashed *G.Node) (*G.Node,
	error) {
	ll := op.GaussianLogPdf(mean, std, pre)
	sq, err := G.Square(squashed)
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	jac := G.Must(G.Neg(sq))
	jac = G.Must(G.Log(op.AddConst(jac, 1+tanhEps)))
	return G.Sub(ll, G.Must(G.Sum(jac, 1)))
}

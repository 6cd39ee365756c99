package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/matutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// OneHot is a set of independent categorical distributions laid out
// side by side in the columns of a matrix: a (B, N·K) matrix of logits
// holds N categoricals of K classes for each of B samples.
//
// Probabilities are mixed with a uniform distribution (unimix) so that
// every class keeps at least Unimix/K probability mass. Samples are
// straight-through: the forward value is a one-hot sample and the
// gradient is that of the probabilities.
type OneHot struct {
	Classes int
	Unimix  float64
}

// NewOneHot returns a new OneHot distribution
func NewOneHot(classes int, unimix float64) (*OneHot, error) {
	if classes <= 0 {
		return nil, fmt.Errorf("newOneHot: classes must be positive "+
			"\n\thave(%v)", classes)
	}
	if unimix < 0 || unimix >= 1 {
		return nil, fmt.Errorf("newOneHot: unimix must be in [0, 1) "+
			"\n\thave(%v)", unimix)
	}
	return &OneHot{Classes: classes, Unimix: unimix}, nil
}

// Probs returns the unimix-smoothed probabilities and
// log-probabilities of the logits
func (o *OneHot) Probs(logits *mat.Dense) (probs, logProbs *mat.Dense) {
	probs = matutils.Softmax(logits, o.Classes)
	if o.Unimix > 0 {
		uniform := 1.0 / float64(o.Classes)
		probs.Apply(func(_, _ int, p float64) float64 {
			return (1-o.Unimix)*p + o.Unimix*uniform
		}, probs)
	}
	logProbs = matutils.Apply(probs, math.Log)
	return
}

// Sample draws a one-hot sample from each categorical
func (o *OneHot) Sample(probs *mat.Dense, rng *rand.Rand) *mat.Dense {
	r, c := probs.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		p := probs.RawRowView(i)
		row := out.RawRowView(i)
		for g := 0; g < c; g += o.Classes {
			u := rng.Float64()
			chosen := g + o.Classes - 1
			var cum float64
			for j := g; j < g+o.Classes; j++ {
				cum += p[j]
				if u < cum {
					chosen = j
					break
				}
			}
			row[chosen] = 1
		}
	}
	return out
}

// Mode returns the one-hot argmax of each categorical
func (o *OneHot) Mode(probs *mat.Dense) *mat.Dense {
	r, c := probs.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		p := probs.RawRowView(i)
		row := out.RawRowView(i)
		for g := 0; g < c; g += o.Classes {
			best := g
			for j := g + 1; j < g+o.Classes; j++ {
				if p[j] > p[best] {
					best = j
				}
			}
			row[best] = 1
		}
	}
	return out
}

// Entropy returns the summed entropy of the categoricals in each row
func (o *OneHot) Entropy(probs, logProbs *mat.Dense) []float64 {
	mustMatch("entropy", probs, logProbs)
	r, _ := probs.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = -mat.Dot(probs.RowView(i), logProbs.RowView(i))
	}
	return out
}

// LogProb returns the summed log-probability of one-hot samples
func (o *OneHot) LogProb(logProbs, sample *mat.Dense) []float64 {
	mustMatch("logProb", logProbs, sample)
	r, _ := sample.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = mat.Dot(logProbs.RowView(i), sample.RowView(i))
	}
	return out
}

// Residual returns sample - probs, the constant that turns
// probabilities into a straight-through sample inside a graph
func Residual(sample, probs *mat.Dense) *mat.Dense {
	mustMatch("residual", sample, probs)
	var out mat.Dense
	out.Sub(sample, probs)
	return &out
}

// ProbsNode adds the unimix-smoothed probabilities and
// log-probabilities of a (B, N·K) logits node to a graph
func (o *OneHot) ProbsNode(logits *G.Node) (probs, logProbs *G.Node,
	err error) {
	shape := logits.Shape()
	rows, cols := shape[0], shape[1]
	if cols%o.Classes != 0 {
		return nil, nil, fmt.Errorf("probsNode: %v logits not divisible "+
			"into categoricals of %v classes", cols, o.Classes)
	}

	grouped, err := G.Reshape(logits, tensor.Shape{rows * cols / o.Classes,
		o.Classes})
	if err != nil {
		return nil, nil, fmt.Errorf("probsNode: %v", err)
	}
	logProbs = op.LogSoftmax(grouped)
	probs = G.Must(G.Exp(logProbs))

	if o.Unimix > 0 {
		probs = op.Scale(probs, 1-o.Unimix)
		probs = op.AddConst(probs, o.Unimix/float64(o.Classes))
		logProbs = G.Must(G.Log(probs))
	}

	back := tensor.Shape{rows, cols}
	probs = G.Must(G.Reshape(probs, back))
	logProbs = G.Must(G.Reshape(logProbs, back))
	return probs, logProbs, nil
}

// StraightThrough returns probs + residual, which has the value of
// the sample the residual was computed from and the gradient of probs
func StraightThrough(probs, residual *G.Node) (*G.Node, error) {
	return G.Add(probs, residual)
}

// EntropyNode returns the summed entropy of each row in a graph
func EntropyNode(probs, logProbs *G.Node) (*G.Node, error) {
	plogp, err := G.HadamardProd(probs, logProbs)
	if err != nil {
		return nil, fmt.Errorf("entropyNode: %v", err)
	}
	return G.Neg(G.Must(G.Sum(plogp, 1)))
}

// LogProbNode returns the summed log-probability of a constant one-hot
// sample in a graph
func (o *OneHot) LogProbNode(logProbs, sample *G.Node) (*G.Node, error) {
	if !logProbs.Shape().Eq(sample.Shape()) {
		panic(fmt.Sprintf("logProbNode: shape mismatch \n\twant(%v)"+
			"\n\thave(%v)", sample.Shape(), logProbs.Shape()))
	}
	ll, err := G.HadamardProd(logProbs, sample)
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	return G.Sum(ll, 1)
}

// KLNode returns Σ p (log p - log q) for each row, where the first
// distribution is given by probs and logP and the second by logQ
func KLNode(probs, logP, logQ *G.Node) (*G.Node, error) {
	diff, err := G.Sub(logP, logQ)
	if err != nil {
		return nil, fmt.Errorf("klNode: %v", err)
	}
	return G.Sum(G.Must(G.HadamardProd(probs, diff)), 1)
}

// KL returns Σ p (log p - log q) for each row numerically
func KL(probs, logP, logQ *mat.Dense) []float64 {
	mustMatch("kl", logP, logQ)
	r, c := probs.Dims()
	out := make([]float64, r)
	for i := range out {
		p, lp, lq := probs.RawRowView(i), logP.RawRowView(i), logQ.RawRowView(i)
		for j := 0; j < c; j++ {
			out[i] += p[j] * (lp[j] - lq[j])
		}
	}
	return out
}

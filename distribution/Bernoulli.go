package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Bernoulli is a binary distribution parameterized by a logit
type Bernoulli struct{}

// Mode returns 1 where the logit is positive and 0 elsewhere
func (Bernoulli) Mode(logits []float64) []float64 {
	out := make([]float64, len(logits))
	for i, l := range logits {
		if l > 0 {
			out[i] = 1
		}
	}
	return out
}

// Mean returns σ(logit)
func (Bernoulli) Mean(logits []float64) []float64 {
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = floatutils.Sigmoid(l)
	}
	return out
}

// LogProb returns y·l - softplus(l) for each logit l and target y
func (Bernoulli) LogProb(logits, y []float64) []float64 {
	if len(logits) != len(y) {
		panic(fmt.Sprintf("logProb: length mismatch \n\twant(%v)\n\thave(%v)",
			len(y), len(logits)))
	}
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = y[i]*l - floatutils.Softplus(l)
		if math.IsNaN(out[i]) {
			out[i] = math.Inf(-1)
		}
	}
	return out
}

// LogProbNode returns the log-likelihood of targets y under logits in
// a graph. Both nodes have shape (batch, 1); the result has shape
// (batch).
func (Bernoulli) LogProbNode(logits, y *G.Node) (*G.Node, error) {
	if !logits.Shape().Eq(y.Shape()) {
		panic(fmt.Sprintf("logProbNode: shape mismatch \n\twant(%v)"+
			"\n\thave(%v)", y.Shape(), logits.Shape()))
	}
	ll, err := G.HadamardProd(y, logits)
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	ll = G.Must(G.Sub(ll, op.Softplus(logits)))
	return G.Reshape(ll, tensor.Shape{ll.Shape().TotalSize()})
}

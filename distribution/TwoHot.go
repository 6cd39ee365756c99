package distribution

import (
	"fmt"
	"math"
	"sort"

	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"github.com/samuelfneumann/godreamer/utils/matutils"
	"github.com/samuelfneumann/godreamer/utils/op"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TwoHot is a categorical distribution over equally spaced bins in
// symlog space. Scalars are encoded as weights on their two nearest
// bins, and the mean of a prediction is symexp(Σ p_i · bin_i).
type TwoHot struct {
	bins []float64
}

// NewTwoHot returns a TwoHot distribution over n bins spanning
// [low, high] in symlog space
func NewTwoHot(low, high float64, n int) (*TwoHot, error) {
	if n < 2 {
		return nil, fmt.Errorf("newTwoHot: need at least two bins \n\thave(%v)",
			n)
	}
	if low >= high {
		return nil, fmt.Errorf("newTwoHot: low must be less than high "+
			"\n\thave(low=%v, high=%v)", low, high)
	}

	bins := make([]float64, n)
	step := (high - low) / float64(n-1)
	for i := range bins {
		bins[i] = low + float64(i)*step
	}
	bins[n-1] = high
	return &TwoHot{bins: bins}, nil
}

// Bins returns the bin locations
func (t *TwoHot) Bins() []float64 {
	return t.bins
}

// Len returns the number of bins
func (t *TwoHot) Len() int {
	return len(t.bins)
}

// EncodeTransformed returns the two-hot weights of a value y that is
// already in symlog space. Values outside the bin range are clamped to
// the boundary bins. EncodeTransformed panics if y is NaN.
func (t *TwoHot) EncodeTransformed(y float64) []float64 {
	if math.IsNaN(y) {
		panic("encodeTransformed: cannot encode NaN")
	}
	n := len(t.bins)
	weights := make([]float64, n)
	y = floatutils.Clip(y, t.bins[0], t.bins[n-1])

	above := sort.SearchFloat64s(t.bins, y)
	if t.bins[above] == y {
		weights[above] = 1
		return weights
	}
	below := above - 1

	distBelow := math.Abs(t.bins[below] - y)
	distAbove := math.Abs(t.bins[above] - y)
	total := distBelow + distAbove
	weights[below] = distAbove / total
	weights[above] = distBelow / total
	return weights
}

// Encode returns the two-hot weights of the scalar x
func (t *TwoHot) Encode(x float64) []float64 {
	return t.EncodeTransformed(floatutils.Symlog(x))
}

// EncodeBatch encodes a batch of scalars, one per row
func (t *TwoHot) EncodeBatch(x []float64) *mat.Dense {
	out := mat.NewDense(len(x), len(t.bins), nil)
	for i, v := range x {
		out.SetRow(i, t.Encode(v))
	}
	return out
}

// Mean returns symexp(Σ p_i · bin_i) for each row of logits
func (t *TwoHot) Mean(logits *mat.Dense) []float64 {
	r, c := logits.Dims()
	if c != len(t.bins) {
		panic(fmt.Sprintf("mean: illegal number of logits \n\twant(%v)"+
			"\n\thave(%v)", len(t.bins), c))
	}
	probs := matutils.Softmax(logits, c)
	out := make([]float64, r)
	for i := range out {
		var sum float64
		for j, p := range probs.RawRowView(i) {
			sum += p * t.bins[j]
		}
		out[i] = floatutils.Symexp(sum)
	}
	return out
}

// Mode returns the same values as Mean
func (t *TwoHot) Mode(logits *mat.Dense) []float64 {
	return t.Mean(logits)
}

// LogProb returns the cross-entropy log-likelihood of the two-hot
// encoded targets x under each row of logits
func (t *TwoHot) LogProb(logits *mat.Dense, x []float64) []float64 {
	target := t.EncodeBatch(x)
	mustMatch("logProb", target, logits)

	logProbs := matutils.LogSoftmax(logits, len(t.bins))
	r, _ := logits.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = mat.Dot(target.RowView(i), logProbs.RowView(i))
	}
	return out
}

// LogProbNode returns the log-likelihood of two-hot targets under
// logits in a graph. The target node holds encoded weights, so it
// never receives gradient.
func (t *TwoHot) LogProbNode(logits, target *G.Node) (*G.Node, error) {
	if !logits.Shape().Eq(target.Shape()) {
		panic(fmt.Sprintf("logProbNode: shape mismatch \n\twant(%v)"+
			"\n\thave(%v)", target.Shape(), logits.Shape()))
	}
	weighted, err := G.HadamardProd(target, op.LogSoftmax(logits))
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	return G.Sum(weighted, 1)
}

// MeanNode returns symexp(Σ p_i · bin_i) for each row of logits in a
// graph
func (t *TwoHot) MeanNode(logits *G.Node) (*G.Node, error) {
	backing := make([]float64, len(t.bins))
	copy(backing, t.bins)
	bins := G.NewMatrix(
		logits.Graph(),
		tensor.Float64,
		G.WithShape(len(t.bins), 1),
		G.WithName(fmt.Sprintf("twohot_bins_%d", len(t.bins))),
		G.WithValue(tensor.New(
			tensor.WithShape(len(t.bins), 1),
			tensor.WithBacking(backing),
		)),
	)

	probs, err := G.Exp(op.LogSoftmax(logits))
	if err != nil {
		return nil, fmt.Errorf("meanNode: %v", err)
	}
	mean, err := G.Mul(probs, bins)
	if err != nil {
		return nil, fmt.Errorf("meanNode: %v", err)
	}
	mean = G.Must(G.Reshape(mean, tensor.Shape{mean.Shape()[0]}))
	return op.Symexp(mean), nil
}

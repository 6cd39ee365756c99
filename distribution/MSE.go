package distribution

import (
	"fmt"

	"github.com/samuelfneumann/godreamer/utils/matutils"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
)

// MSE is a fixed-variance Gaussian whose log-likelihood is the
// negative squared error between prediction and target
type MSE struct {
	Agg Agg
}

// NewMSE returns a new MSE distribution
func NewMSE(agg Agg) (*MSE, error) {
	if err := agg.Validate(); err != nil {
		return nil, fmt.Errorf("newMSE: %v", err)
	}
	return &MSE{Agg: agg}, nil
}

// Mode returns the prediction
func (m *MSE) Mode(pred *mat.Dense) *mat.Dense {
	return pred
}

// Mean returns the prediction
func (m *MSE) Mean(pred *mat.Dense) *mat.Dense {
	return pred
}

// LogProb returns the negative aggregated squared error for each row
func (m *MSE) LogProb(pred, target *mat.Dense) []float64 {
	return negSquaredError("logProb", pred, target, m.Agg)
}

// LogProbNode returns the negative aggregated squared error in a
// graph. The target node holds data, so it never receives gradient.
func (m *MSE) LogProbNode(pred, target *G.Node) (*G.Node, error) {
	return negSquaredErrorNode(pred, target, m.Agg)
}

// SymlogMSE is an MSE distribution in symlog space: predictions are
// compared to symlog(target) and the mode is symexp(prediction)
type SymlogMSE struct {
	Agg Agg
}

// NewSymlogMSE returns a new SymlogMSE distribution
func NewSymlogMSE(agg Agg) (*SymlogMSE, error) {
	if err := agg.Validate(); err != nil {
		return nil, fmt.Errorf("newSymlogMSE: %v", err)
	}
	return &SymlogMSE{Agg: agg}, nil
}

// Mode returns symexp(pred)
func (s *SymlogMSE) Mode(pred *mat.Dense) *mat.Dense {
	return matutils.Symexp(pred)
}

// Mean returns symexp(pred)
func (s *SymlogMSE) Mean(pred *mat.Dense) *mat.Dense {
	return s.Mode(pred)
}

// LogProb returns the negative aggregated squared error between each
// row of pred and symlog(target)
func (s *SymlogMSE) LogProb(pred, target *mat.Dense) []float64 {
	return negSquaredError("logProb", pred, matutils.Symlog(target), s.Agg)
}

// LogProbNode returns the log-likelihood in a graph. The target node
// must already hold symlog-transformed values.
func (s *SymlogMSE) LogProbNode(pred, symlogTarget *G.Node) (*G.Node, error) {
	return negSquaredErrorNode(pred, symlogTarget, s.Agg)
}

func negSquaredError(op string, pred, target *mat.Dense, agg Agg) []float64 {
	mustMatch(op, target, pred)
	r, c := pred.Dims()
	out := make([]float64, r)
	for i := range out {
		p, t := pred.RawRowView(i), target.RawRowView(i)
		var sum float64
		for j := range p {
			sum += (p[j] - t[j]) * (p[j] - t[j])
		}
		if agg == Mean {
			sum /= float64(c)
		}
		out[i] = -sum
	}
	return out
}

func negSquaredErrorNode(pred, target *G.Node, agg Agg) (*G.Node, error) {
	if !pred.Shape().Eq(target.Shape()) {
		panic(fmt.Sprintf("logProbNode: shape mismatch \n\twant(%v)"+
			"\n\thave(%v)", target.Shape(), pred.Shape()))
	}
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	sq := G.Must(G.Square(diff))

	var total *G.Node
	if agg == Mean {
		total = G.Must(G.Mean(sq, 1))
	} else {
		total = G.Must(G.Sum(sq, 1))
	}
	return G.Neg(total)
}

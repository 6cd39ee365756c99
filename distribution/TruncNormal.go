package distribution

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/op"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
)

// zEps floors the normalizing constant of a truncated normal
const zEps = 2.220446049250313e-16

// TruncatedNormal is a diagonal Gaussian truncated to [Low, High] in
// every dimension
type TruncatedNormal struct {
	Low, High float64
}

// NewTruncatedNormal returns a new TruncatedNormal over [low, high]
func NewTruncatedNormal(low, high float64) (*TruncatedNormal, error) {
	if low >= high {
		return nil, fmt.Errorf("newTruncatedNormal: low must be less than "+
			"high \n\thave(low=%v, high=%v)", low, high)
	}
	return &TruncatedNormal{Low: low, High: high}, nil
}

func (t *TruncatedNormal) bounds(mean, std float64) (alpha, beta, z float64) {
	alpha = (t.Low - mean) / std
	beta = (t.High - mean) / std
	z = math.Max(distuv.UnitNormal.CDF(beta)-distuv.UnitNormal.CDF(alpha),
		zEps)
	return
}

// Sample draws from the truncated distribution by inverting the CDF.
// The standardized values (x - mean) / std are returned as noise.
func (t *TruncatedNormal) Sample(mean, std *mat.Dense,
	rng *rand.Rand) (sample, noise *mat.Dense) {
	mustMatch("sample", mean, std)
	r, c := mean.Dims()
	sample, noise = mat.NewDense(r, c, nil), mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			mu, sigma := mean.At(i, j), std.At(i, j)
			alpha, _, z := t.bounds(mu, sigma)
			u := distuv.UnitNormal.CDF(alpha) + rng.Float64()*z
			u = math.Max(zEps, math.Min(1-zEps, u))
			xi := distuv.UnitNormal.Quantile(u)
			x := math.Max(t.Low, math.Min(t.High, mu+sigma*xi))
			sample.Set(i, j, x)
			noise.Set(i, j, (x-mu)/sigma)
		}
	}
	return
}

// LogProb returns the log-density of each row of x
func (t *TruncatedNormal) LogProb(mean, std, x *mat.Dense) []float64 {
	mustMatch("logProb", mean, x)
	mustMatch("logProb", std, x)
	r, c := x.Dims()
	out := make([]float64, r)
	for i := range out {
		for j := 0; j < c; j++ {
			mu, sigma := mean.At(i, j), std.At(i, j)
			_, _, z := t.bounds(mu, sigma)
			xi := (x.At(i, j) - mu) / sigma
			out[i] += -0.5*xi*xi - halfLog2Pi - math.Log(sigma) - math.Log(z)
		}
	}
	return out
}

// Entropy returns the entropy of each row
func (t *TruncatedNormal) Entropy(mean, std *mat.Dense) []float64 {
	r, c := mean.Dims()
	out := make([]float64, r)
	for i := range out {
		for j := 0; j < c; j++ {
			mu, sigma := mean.At(i, j), std.At(i, j)
			alpha, beta, z := t.bounds(mu, sigma)
			pa := distuv.UnitNormal.Prob(alpha)
			pb := distuv.UnitNormal.Prob(beta)
			out[i] += math.Log(math.Sqrt(2*math.Pi*math.E)*sigma*z) +
				(alpha*pa-beta*pb)/(2*z)
		}
	}
	return out
}

// phiNode approximates the standard normal CDF in a graph with
// 0.5·(1 + tanh(√(2/π)·(x + 0.044715·x³)))
func phiNode(x *G.Node) *G.Node {
	cube := G.Must(G.HadamardProd(x, G.Must(G.Square(x))))
	inner := G.Must(G.Add(x, op.Scale(cube, 0.044715)))
	inner = op.Scale(inner, math.Sqrt(2/math.Pi))
	return op.Scale(op.AddConst(G.Must(G.Tanh(inner)), 1), 0.5)
}

// densityNode computes the standard normal density in a graph
func densityNode(x *G.Node) *G.Node {
	e := G.Must(G.Exp(op.Scale(G.Must(G.Square(x)), -0.5)))
	return op.Scale(e, 1/math.Sqrt(2*math.Pi))
}

// boundsNode returns α, β and the floored normalizing constant Z in a
// graph
func (t *TruncatedNormal) boundsNode(mean, std *G.Node) (alpha, beta,
	z *G.Node) {
	alpha = G.Must(G.HadamardDiv(op.Scale(op.AddConst(mean, -t.Low), -1),
		std))
	beta = G.Must(G.HadamardDiv(op.Scale(op.AddConst(mean, -t.High), -1),
		std))
	z = G.Must(G.Sub(phiNode(beta), phiNode(alpha)))

	// max(z, ε) = relu(z - ε) + ε
	z = op.AddConst(G.Must(G.Rectify(op.AddConst(z, -zEps))), zEps)
	return
}

// LogProbNode returns the log-density of each row of x in a graph
func (t *TruncatedNormal) LogProbNode(mean, std, x *G.Node) (*G.Node,
	error) {
	diff, err := G.Sub(x, mean)
	if err != nil {
		return nil, fmt.Errorf("logProbNode: %v", err)
	}
	xi := G.Must(G.HadamardDiv(diff, std))
	_, _, z := t.boundsNode(mean, std)

	ll := op.Scale(G.Must(G.Square(xi)), -0.5)
	ll = G.Must(G.Sub(ll, G.Must(G.Log(std))))
	ll = G.Must(G.Sub(ll, G.Must(G.Log(z))))
	return op.AddConst(G.Must(G.Sum(ll, 1)),
		-halfLog2Pi*float64(x.Shape()[1])), nil
}

// EntropyNode returns the entropy of each row in a graph
func (t *TruncatedNormal) EntropyNode(mean, std *G.Node) (*G.Node, error) {
	alpha, beta, z := t.boundsNode(mean, std)

	ent, err := G.Log(G.Must(G.HadamardProd(std, z)))
	if err != nil {
		return nil, fmt.Errorf("entropyNode: %v", err)
	}
	ent = op.AddConst(ent, 0.5*math.Log(2*math.Pi*math.E))

	num := G.Must(G.Sub(
		G.Must(G.HadamardProd(alpha, densityNode(alpha))),
		G.Must(G.HadamardProd(beta, densityNode(beta))),
	))
	ent = G.Must(G.Add(ent, G.Must(G.HadamardDiv(op.Scale(num, 0.5), z))))
	return G.Sum(ent, 1)
}

// SampleNode returns the reparameterized sample mean + std·noise plus
// a constant clip residual, so that the forward value equals the
// clipped numeric sample and gradients pass straight through the clip
func (t *TruncatedNormal) SampleNode(mean, std, noise,
	clipResidual *G.Node) (*G.Node, error) {
	scaled, err := G.HadamardProd(std, noise)
	if err != nil {
		return nil, fmt.Errorf("sampleNode: %v", err)
	}
	x := G.Must(G.Add(mean, scaled))
	if clipResidual == nil {
		return x, nil
	}
	return G.Add(x, clipResidual)
}

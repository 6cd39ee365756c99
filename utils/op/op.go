// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/G.ld on GitHub
package op

import (
	"math"

	G "gorgonia.org/gorgonia"
)

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax normalizes each row of a matrix of logits into
// log-probabilities
func LogSoftmax(logits *G.Node) *G.Node {
	lse := LogSumExp(logits, 1)
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
}

// Abs returns |x| as relu(x) + relu(-x), which keeps a defined
// gradient everywhere except zero
func Abs(x *G.Node) *G.Node {
	pos := G.Must(G.Rectify(x))
	neg := G.Must(G.Rectify(G.Must(G.Neg(x))))
	return G.Must(G.Add(pos, neg))
}

// Softplus computes ln(1 + exp(x)) as relu(x) + ln(1 + exp(-|x|))
func Softplus(x *G.Node) *G.Node {
	tail := G.Must(G.Exp(G.Must(G.Neg(Abs(x)))))
	tail = G.Must(G.Log1p(tail))
	return G.Must(G.Add(G.Must(G.Rectify(x)), tail))
}

// SiLU computes x * sigmoid(x)
func SiLU(x *G.Node) *G.Node {
	return G.Must(G.HadamardProd(x, G.Must(G.Sigmoid(x))))
}

// ELU computes relu(x) + exp(-relu(-x)) - 1, which is x for positive
// x and exp(x) - 1 otherwise
func ELU(x *G.Node) *G.Node {
	negPart := G.Must(G.Rectify(G.Must(G.Neg(x))))
	expPart := G.Must(G.Exp(G.Must(G.Neg(negPart))))
	expPart = G.Must(G.Sub(expPart, G.NewConstant(1.0)))
	return G.Must(G.Add(G.Must(G.Rectify(x)), expPart))
}

// Symexp computes sign(x)·(exp(|x|)-1) as exp(relu(x)) - exp(relu(-x))
func Symexp(x *G.Node) *G.Node {
	pos := G.Must(G.Exp(G.Must(G.Rectify(x))))
	neg := G.Must(G.Exp(G.Must(G.Rectify(G.Must(G.Neg(x))))))
	return G.Must(G.Sub(pos, neg))
}

// Scale multiplies a node by a constant
func Scale(x *G.Node, c float64) *G.Node {
	return G.Must(G.Mul(x, G.NewConstant(c)))
}

// AddConst adds a constant to every element of a node
func AddConst(x *G.Node, c float64) *G.Node {
	return G.Must(G.Add(x, G.NewConstant(c)))
}

// GaussianLogPdf calculate the log of the probability density function
// of actions drawn from a diagonal Gaussian distribution with mean mean and
// standard deviation std.
//
// All arguments should be two-dimensional and of the same size m x n.
// For each argument, the rows (m) denote the number of sampled in the
// batch. For the mean and std, the columns (n) denote the main diagonal
// of the mean or standard deviation respectively in the diagonal Gaussian,
// for which the PDF of actions is calculated. For the actions parameter,
// the columns denote each dimension of the actions.
//
// The returned node is a vector of length m.
func GaussianLogPdf(mean, std, actions *G.Node) *G.Node {
	graph := mean.Graph()
	if graph != std.Graph() || graph != actions.Graph() {
		panic("gaussianLogPdf: all nodes must share the same graph")
	}

	dims := float64(mean.Shape()[1])
	term1 := G.NewConstant((-dims / 2.0) * math.Log(2*math.Pi))

	// Σ log σ replaces log Π σ² / 2, which underflows for many dims
	term2 := G.Must(G.Sum(G.Must(G.Log(std)), 1))

	// Calculate (-1/2) * (A - μ)^T σ^(-1) (A - μ)
	// Since everything is stored as a vector, this boils down to a
	// bunch of Hadamard products, sums, and differences.
	diff := G.Must(G.Sub(actions, mean))
	exponent := G.Must(G.HadamardDiv(diff, std))
	exponent = G.Must(G.Square(exponent))
	exponent = G.Must(G.Sum(exponent, 1))
	exponent = Scale(exponent, -0.5)

	logProb := G.Must(G.Sub(exponent, term2))
	return G.Must(G.Add(logProb, term1))
}

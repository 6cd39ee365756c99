// Package distribution implements the probability distributions used
// by world models and actor-critic heads.
//
// Every distribution works on batches stored one sample per row of a
// matrix. Numeric methods compute values with gonum; functions with a
// Node suffix add the same computation to a Gorgonia graph so that it
// can be differentiated.
package distribution

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Agg determines how per-dimension log-probabilities are aggregated
// over the event dimensions of a sample
type Agg string

const (
	Sum  Agg = "sum"
	Mean Agg = "mean"
)

// Validate returns an error if the aggregation is unknown
func (a Agg) Validate() error {
	switch a {
	case Sum, Mean:
		return nil
	default:
		return fmt.Errorf("validate: illegal aggregation %q", a)
	}
}

// mustMatch panics if two matrices have different shapes. Mismatched
// predictions and targets are integration errors.
func mustMatch(op string, want, have mat.Matrix) {
	wr, wc := want.Dims()
	hr, hc := have.Dims()
	if wr != hr || wc != hc {
		panic(fmt.Sprintf("%v: shape mismatch \n\twant(%v, %v)\n\thave(%v, %v)",
			op, wr, wc, hr, hc))
	}
}

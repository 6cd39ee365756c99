// Package returns implements return estimators and return
// normalization for learning from imagined trajectories
package returns

import (
	"fmt"
)

// Lambda computes TD(λ) returns over a horizon of H steps for a batch
// of N trajectories. Step t of every argument is a slice of length N:
//
//	rewards[t]    = r_t, the reward for the transition s_t → s_{t+1}
//	discounts[t]  = γ_t, the discount (γ · continuation) of s_{t+1}
//	nextValues[t] = V(s_{t+1})
//
// The returns are computed by the backward recursion
//
//	G_{H-1} = r_{H-1} + γ_{H-1}·V(s_H)
//	G_t     = r_t + γ_t·((1-λ)·V(s_{t+1}) + λ·G_{t+1})
//
// so the last step bootstraps from the final value estimate.
func Lambda(rewards, discounts, nextValues [][]float64,
	lambda float64) ([][]float64, error) {
	horizon := len(rewards)
	if horizon == 0 {
		return nil, fmt.Errorf("lambda: empty horizon")
	}
	if len(discounts) != horizon || len(nextValues) != horizon {
		return nil, fmt.Errorf("lambda: horizons differ \n\twant(%v)"+
			"\n\thave(discounts=%v, values=%v)", horizon, len(discounts),
			len(nextValues))
	}
	if lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("lambda: λ must be in [0, 1] \n\thave(%v)",
			lambda)
	}

	n := len(rewards[0])
	for t := 0; t < horizon; t++ {
		if len(rewards[t]) != n || len(discounts[t]) != n ||
			len(nextValues[t]) != n {
			return nil, fmt.Errorf("lambda: batch sizes differ at step %v "+
				"\n\twant(%v)", t, n)
		}
	}

	out := make([][]float64, horizon)
	last := horizon - 1
	out[last] = make([]float64, n)
	for i := 0; i < n; i++ {
		out[last][i] = rewards[last][i] + discounts[last][i]*nextValues[last][i]
	}

	// The running return is carried backward; each step depends on the
	// one after it.
	for t := last - 1; t >= 0; t-- {
		out[t] = make([]float64, n)
		for i := 0; i < n; i++ {
			bootstrap := (1-lambda)*nextValues[t][i] + lambda*out[t+1][i]
			out[t][i] = rewards[t][i] + discounts[t][i]*bootstrap
		}
	}
	return out, nil
}

// Weights returns the cumulative products of discounts that weight
// each imagined step by the probability of still being in the episode:
// w_0 = 1 and w_t = Π_{k<t} γ_k.
func Weights(discounts [][]float64) [][]float64 {
	out := make([][]float64, len(discounts)+1)
	if len(discounts) == 0 {
		return out[:0]
	}
	n := len(discounts[0])
	out[0] = make([]float64, n)
	for i := range out[0] {
		out[0][i] = 1
	}
	for t := 1; t <= len(discounts); t++ {
		out[t] = make([]float64, n)
		for i := 0; i < n; i++ {
			out[t][i] = out[t-1][i] * discounts[t-1][i]
		}
	}
	return out
}

// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/spatial/r1"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipInterval clips a floating point to within an interval
func ClipInterval(value float64, i r1.Interval) float64 {
	return Clip(value, i.Min, i.Max)
}

// MaxSlice gets the maximum value and indices of the maximum values in
// a slice of float64.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i, value := range values[1:] {
		if value > max {
			max = value
			indices = []int{i + 1}
		} else if value == max {
			indices = append(indices, i+1)
		}
	}
	return
}

// Argmax returns the first index of the maximum value in values
func Argmax(values []float64) int {
	_, indices := MaxSlice(values)
	return indices[0]
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}

// Symlog compresses the magnitude of x: sign(x)·ln(1+|x|)
func Symlog(x float64) float64 {
	if x < 0 {
		return -math.Log1p(-x)
	}
	return math.Log1p(x)
}

// Symexp is the inverse of Symlog: sign(x)·(exp(|x|)-1)
func Symexp(x float64) float64 {
	if x < 0 {
		return -math.Expm1(-x)
	}
	return math.Expm1(x)
}

// Sigmoid returns the logistic function of x
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Softplus returns ln(1+exp(x)) computed without overflow
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// LogSumExp returns ln(Σ exp(v)) for the values in v
func LogSumExp(v []float64) float64 {
	max := Max(v...)
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// Package matutils implements utility function for working with mat.Matrix
// structs
package matutils

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/godreamer/utils/floatutils"
	"gonum.org/v1/gonum/mat"
)

// Apply returns a new matrix holding f applied element-wise to m
func Apply(m mat.Matrix, f func(float64) float64) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.Apply(func(_, _ int, v float64) float64 { return f(v) }, out)
	return out
}

// Symlog returns symlog applied element-wise to m
func Symlog(m mat.Matrix) *mat.Dense {
	return Apply(m, floatutils.Symlog)
}

// Symexp returns symexp applied element-wise to m
func Symexp(m mat.Matrix) *mat.Dense {
	return Apply(m, floatutils.Symexp)
}

// HStack concatenates matrices with equal row counts column-wise.
// Nil matrices are skipped.
func HStack(ms ...*mat.Dense) *mat.Dense {
	rows, cols := -1, 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		r, c := m.Dims()
		if rows >= 0 && r != rows {
			panic(fmt.Sprintf("hStack: row counts differ \n\twant(%v)"+
				"\n\thave(%v)", rows, r))
		}
		rows = r
		cols += c
	}
	if rows < 0 {
		panic("hStack: no matrices to stack")
	}

	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, m := range ms {
		if m == nil {
			continue
		}
		_, c := m.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(m)
		offset += c
	}
	return out
}

// Columns returns a copy of columns [from, to) of m
func Columns(m *mat.Dense, from, to int) *mat.Dense {
	r, _ := m.Dims()
	return mat.DenseCopyOf(m.Slice(0, r, from, to))
}

// LogSoftmax computes a row-wise log-softmax over groups of width k.
// A (B, N·K) matrix is treated as B·N independent categoricals.
func LogSoftmax(logits *mat.Dense, k int) *mat.Dense {
	r, c := logits.Dims()
	if c%k != 0 {
		panic(fmt.Sprintf("logSoftmax: columns %v not divisible by %v", c, k))
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		in := logits.RawRowView(i)
		row := out.RawRowView(i)
		for g := 0; g < c; g += k {
			lse := floatutils.LogSumExp(in[g : g+k])
			for j := g; j < g+k; j++ {
				row[j] = in[j] - lse
			}
		}
	}
	return out
}

// Softmax computes a row-wise softmax over groups of width k
func Softmax(logits *mat.Dense, k int) *mat.Dense {
	return Apply(LogSoftmax(logits, k), math.Exp)
}

// HasNaN reports whether any entry of m is NaN or infinite
func HasNaN(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

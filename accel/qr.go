// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package accel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore/config"
)

// filteredQR is the QR factorization of a preconditioned V, with the
// column-filter policy applied during construction:
// NO_FILTER keeps every column, QR1 drops a column as it is orthogonalized
// when its new R-diagonal entry falls below singularityLimit times the
// larger of that entry and the norm of the R diagonal kept so far, QR2
// drops a column during the Gram-Schmidt update itself based on the
// column's own residual-to-original-norm ratio.
//
// Built with modified Gram-Schmidt rather than gonum's mat.QR
// because the filter needs to inspect (and potentially reject) each
// column as it is orthogonalized; gonum's QR always keeps every column.
type filteredQR struct {
	// q holds one orthonormal column per kept input column, index 0 most
	// recent (matching V's column order).
	q [][]float64
	// r is the upper-triangular coefficient matrix stored column by column
	// in kept-column order: r[j] has length j+1 and r[j][i] relates kept
	// column j back to q[i].
	r [][]float64
	// keptCols are the original V column indices retained, in original order.
	keptCols []int
}

// factorizeQR builds a filteredQR from v's columns (index 0 most recent)
// under the given filter policy.
func factorizeQR(v *mat.Dense, filter config.FilterType, singularityLimit float64) *filteredQR {
	rows, cols := v.Dims()
	out := &filteredQR{}
	if cols == 0 {
		return out
	}

	runningRNorm := 0.0
	for j := 0; j < cols; j++ {
		col := make([]float64, rows)
		mat.Col(col, j, v)
		originalNorm := vecNorm(col)

		proj := make([]float64, len(out.q))
		residual := append([]float64(nil), col...)
		for i, qi := range out.q {
			p := dot(qi, residual)
			proj[i] = p
			for k := range residual {
				residual[k] -= p * qi[k]
			}
		}
		residualNorm := vecNorm(residual)

		if !keepColumn(filter, singularityLimit, residualNorm, originalNorm, runningRNorm) {
			continue
		}
		if residualNorm < 1e-300 {
			continue
		}

		qNew := make([]float64, rows)
		for k := range qNew {
			qNew[k] = residual[k] / residualNorm
		}
		rowR := make([]float64, len(out.q)+1)
		copy(rowR, proj)
		rowR[len(out.q)] = residualNorm

		out.q = append(out.q, qNew)
		out.r = append(out.r, rowR)
		out.keptCols = append(out.keptCols, j)
		runningRNorm = math.Hypot(runningRNorm, residualNorm)
	}
	return out
}

func keepColumn(filter config.FilterType, limit, residualNorm, originalNorm, runningRNorm float64) bool {
	switch filter {
	case config.NoFilter:
		return true
	case config.QR1:
		threshold := limit * math.Max(runningRNorm, residualNorm)
		return residualNorm >= threshold
	case config.QR2:
		if originalNorm == 0 {
			return false
		}
		return residualNorm >= limit*originalNorm
	default:
		return true
	}
}

// NumKept reports how many of V's original columns survived the filter.
func (f *filteredQR) NumKept() int { return len(f.q) }

// KeptColumns returns the original V column indices retained, in order.
func (f *filteredQR) KeptColumns() []int { return f.keptCols }

// SolveNegative solves R*alpha = Q^T*(-r) by back substitution over the
// kept columns, returning alpha indexed in kept-column order (so alpha[i]
// corresponds to original V column KeptColumns()[i]).
func (f *filteredQR) SolveNegative(r []float64) []float64 {
	n := len(f.q)
	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs[i] = -dot(f.q[i], r)
	}
	return backSubstitute(f.r, rhs)
}

// backSubstitute solves R*x = rhs where r holds the upper-triangular R
// column by column: r[j] is column j, so R[i][j] == r[j][i].
func backSubstitute(r [][]float64, rhs []float64) []float64 {
	n := len(rhs)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := rhs[i]
		for j := i + 1; j < n; j++ {
			sum -= r[j][i] * x[j]
		}
		diag := r[i][i]
		if diag == 0 {
			x[i] = 0
			continue
		}
		x[i] = sum / diag
	}
	return x
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func vecNorm(a []float64) float64 {
	sum := 0.0
	for _, v := range a {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package accel

import (
	"github.com/precice-go/cplcore/accel/precond"
	"github.com/precice-go/cplcore/config"
)

// iqnILSState is the IQN-ILS (least-squares quasi-Newton) acceleration:
// the preconditioned history V is QR-factorized under the
// configured filter, R*alpha = Q^T*(-r) is solved by back substitution, and
// values <- oldValues + W*alpha + omegaInit*(r - V*alpha).
type iqnILSState struct {
	filter           config.FilterType
	singularityLimit float64
	omegaInit        float64
}

func newIQNILSState(filter config.FilterType, singularityLimit, omegaInit float64) *iqnILSState {
	return &iqnILSState{filter: filter, singularityLimit: singularityLimit, omegaInit: omegaInit}
}

// apply runs one IQN-ILS update. h holds the raw (unpreconditioned) V/W
// columns; the current weights of pc are applied to V, W, r, and oldValues
// here, and the result is reverted back before returning, so every column
// sees the same weight vector no matter when it was recorded.
func (s *iqnILSState) apply(h *History, pc *precond.Preconditioner, r, oldValues []float64) []float64 {
	n := len(r)
	out := make([]float64, n)

	if h.NumColumns() == 0 {
		// First iteration of a run: no history yet, fall back to initial
		// relaxation. Diagonal
		// scaling cancels in this expression, so it is computed unscaled.
		for i := range out {
			out[i] = oldValues[i] + s.omegaInit*r[i]
		}
		return out
	}

	pv := h.V()
	pw := h.W()
	pc.ApplyRows(pv)
	pc.ApplyRows(pw)

	qr := factorizeQR(pv, s.filter, s.singularityLimit)
	pc.ClearRequireNewQR()
	if qr.NumKept() < h.NumColumns() {
		h.dropColumns(qr.KeptColumns())
	}
	if qr.NumKept() == 0 {
		// QR2 eliminated every column, leaving V empty: fall back to
		// initial relaxation rather than crash.
		for i := range out {
			out[i] = oldValues[i] + s.omegaInit*r[i]
		}
		return out
	}

	pr := append([]float64(nil), r...)
	pc.Apply(pr)

	alpha := qr.SolveNegative(pr)
	valpha := make([]float64, n)
	walpha := make([]float64, n)
	for i, col := range qr.KeptColumns() {
		a := alpha[i]
		for k := 0; k < n; k++ {
			valpha[k] += a * pv.At(k, col)
			walpha[k] += a * pw.At(k, col)
		}
	}

	pOld := append([]float64(nil), oldValues...)
	pc.Apply(pOld)
	for k := 0; k < n; k++ {
		out[k] = pOld[k] + walpha[k] + s.omegaInit*(pr[k]-valpha[k])
	}
	pc.Revert(out)
	return out
}

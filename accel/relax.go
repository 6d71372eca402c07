// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package accel

import (
	"fmt"
	"math/bits"

	"github.com/precice-go/cplcore"
)

// ConstantRelax applies plain constant relaxation:
// values <- omega*values + (1-omega)*oldValues, in place on values.
func ConstantRelax(values, oldValues []float64, omega float64) {
	for i := range values {
		values[i] = omega*values[i] + (1-omega)*oldValues[i]
	}
}

// aitkenState tracks the single scalar relaxation factor
// across the iterations of one time step.
type aitkenState struct {
	initialOmega float64
	omegaPrev    float64
	firstIter    bool
	rPrev        []float64
}

func newAitkenState(initialOmega float64) *aitkenState {
	return &aitkenState{initialOmega: initialOmega, omegaPrev: initialOmega, firstIter: true}
}

// apply relaxes values toward oldValues using residual r = values -
// oldValues, recomputing omega from -omegaPrev*(rPrev.dr)/(dr.dr), with
// dr = r - rPrev, on every iteration but the first, which uses the initial
// relaxation.
func (a *aitkenState) apply(values, oldValues, r []float64) {
	omega := a.initialOmega
	if !a.firstIter && a.rPrev != nil {
		dr := make([]float64, len(r))
		for i := range dr {
			dr[i] = r[i] - a.rPrev[i]
		}
		denom := dot(dr, dr)
		if denom > 0 {
			omega = -a.omegaPrev * dot(a.rPrev, dr) / denom
		} else {
			omega = a.omegaPrev
		}
	}
	ConstantRelax(values, oldValues, omega)
	a.omegaPrev = omega
	a.rPrev = append(a.rPrev[:0], r...)
	a.firstIter = false
}

// onTimestepComplete resets the Aitken factor to the initial relaxation
// for the next time step.
func (a *aitkenState) onTimestepComplete() {
	a.omegaPrev = a.initialOmega
	a.firstIter = true
	a.rPrev = nil
}

// hierarchicalAitkenState applies Aitken relaxation level-wise after a
// binary hierarchical transform of the residual, valid
// only for a 1-D interface whose length minus one is a power of two.
//
// The hierarchical transform follows the classical sparse-grid
// hierarchization recursion: boundary points form level 0; at level l the
// midpoints of the still-coarse intervals become surpluses relative to the
// linear interpolation of their two level-(<l) neighbours. A separate
// Aitken factor is tracked per level so coarse, slowly-changing components
// relax independently from fine, fast-changing ones.
type hierarchicalAitkenState struct {
	n        int
	levels   int
	levelIdx [][]int
	perLevel []*aitkenState
}

// newHierarchicalAitkenState validates that n-1 is a power of two and
// builds one aitkenState per hierarchical level.
func newHierarchicalAitkenState(n int, initialOmega float64) (*hierarchicalAitkenState, error) {
	if n < 2 || !isPowerOfTwo(n-1) {
		return nil, cplcore.ConfigurationError("accel.hierarchicalAitken",
			fmt.Errorf("hierarchical aitken requires a 1-D interface of length 2^k+1, got %d", n))
	}
	levels := bits.Len(uint(n - 1)) - 1
	h := &hierarchicalAitkenState{n: n, levels: levels}
	h.levelIdx = make([][]int, levels+1)
	h.levelIdx[0] = []int{0, n - 1}
	for l := 1; l <= levels; l++ {
		h.levelIdx[l] = levelIndices(n, l)
	}
	h.perLevel = make([]*aitkenState, levels+1)
	for l := range h.perLevel {
		h.perLevel[l] = newAitkenState(initialOmega)
	}
	return h, nil
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// levelIndices returns the interior-index positions introduced at
// hierarchical level l (1-based; l == levels reaches every remaining odd
// index).
func levelIndices(n, l int) []int {
	total := n - 1
	step := total >> uint(l)
	var idx []int
	for i := step; i < total; i += 2 * step {
		idx = append(idx, i)
	}
	return idx
}

// hierarchize returns the hierarchical surplus form of values, leaving
// values unchanged: each level-l index's surplus is its deviation from the
// linear interpolation of the ORIGINAL nodal values of its two coarser
// neighbours, and the two boundary points keep their nodal values. Levels
// are walked from finest to coarsest.
func (h *hierarchicalAitkenState) hierarchize(values []float64) []float64 {
	nodal := append([]float64(nil), values...)
	surplus := make([]float64, h.n)
	for l := h.levels; l >= 1; l-- {
		step := (h.n - 1) >> uint(l)
		for _, i := range h.levelIdx[l] {
			left := nodal[i-step]
			right := nodal[i+step]
			surplus[i] = nodal[i] - 0.5*(left+right)
		}
	}
	surplus[0] = nodal[0]
	surplus[h.n-1] = nodal[h.n-1]
	return surplus
}

// apply hierarchizes both values and oldValues, relaxes each level's
// surplus components independently with that level's Aitken factor, then
// dehierarchizes the result back into values.
func (h *hierarchicalAitkenState) apply(values, oldValues []float64) {
	surplusNew := h.hierarchize(values)
	surplusOld := h.hierarchize(oldValues)

	relaxed := make([]float64, h.n)
	for l, idxs := range h.levelIdx {
		if len(idxs) == 0 {
			continue
		}
		newSub := gather(surplusNew, idxs)
		oldSub := gather(surplusOld, idxs)
		r := make([]float64, len(idxs))
		for i := range r {
			r[i] = newSub[i] - oldSub[i]
		}
		out := append([]float64(nil), newSub...)
		h.perLevel[l].apply(out, oldSub, r)
		scatter(relaxed, idxs, out)
	}

	dehierarchized := h.dehierarchize(relaxed)
	copy(values, dehierarchized)
}

// dehierarchize inverts hierarchize: coarsest level first, reconstructing
// nodal values from surpluses.
func (h *hierarchicalAitkenState) dehierarchize(surplus []float64) []float64 {
	nodal := append([]float64(nil), surplus...)
	for l := 1; l <= h.levels; l++ {
		step := (h.n - 1) >> uint(l)
		for _, i := range h.levelIdx[l] {
			left := nodal[i-step]
			right := nodal[i+step]
			nodal[i] = surplus[i] + 0.5*(left+right)
		}
	}
	return nodal
}

func (h *hierarchicalAitkenState) onTimestepComplete() {
	for _, a := range h.perLevel {
		a.onTimestepComplete()
	}
}

func gather(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

func scatter(dst []float64, idx []int, v []float64) {
	for i, j := range idx {
		dst[j] = v[i]
	}
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precond implements the four preconditioner variants:
// per-subvector scaling weights applied to the acceleration
// core's V/W history matrices before the QR factorization or Jacobian
// update, so that fields of different physical magnitude contribute
// comparably to the quasi-Newton model.
package precond

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/coupling"
)

// Type selects which weighting strategy a Preconditioner uses.
type Type int

const (
	// Constant uses fixed, user-supplied per-data-ID factors.
	Constant Type = iota
	// Value scales by 1/||x_k||_inf on the current values, refreshed on
	// each completed step.
	Value
	// Residual scales by 1/||r_k||_inf on the current residual, refreshed
	// on each iteration.
	Residual
	// ResidualSum accumulates a running sum of ||r_k||_2^2, square-rooted
	// into a weight; stable against residual collapse late in a run.
	ResidualSum
)

// Segment locates one data field's sub-vector within the concatenated
// vector a Preconditioner operates over.
type Segment struct {
	ID     coupling.DataID
	Offset int
	Length int
}

// Preconditioner holds one weight per entry of the concatenated vector,
// one scalar per subvector broadcast across that subvector's entries.
type Preconditioner struct {
	kind     Type
	segments []Segment
	weights  []float64

	// maxNonConstSteps bounds how many completed steps (Value) or
	// iterations (Residual) refresh the weights; -1 means "always update".
	// Constant and ResidualSum ignore this field.
	maxNonConstSteps int
	stepsSeen        int
	frozen           bool

	// constantFactors holds the user-supplied per-data-ID weights for
	// Type Constant.
	constantFactors map[coupling.DataID]float64

	// sumSquares accumulates ||r_k||_2^2 per segment for ResidualSum.
	sumSquares []float64

	// requireNewQR is set whenever the weights change, invalidating any
	// QR factorization of the preconditioned V.
	requireNewQR bool
}

// NewConstant builds a Constant preconditioner from one weight per data
// field (1/factor_k), frozen for the life of the run.
func NewConstant(segments []Segment, factors map[coupling.DataID]float64) (*Preconditioner, error) {
	p := &Preconditioner{kind: Constant, segments: segments, constantFactors: factors, frozen: true}
	p.weights = make([]float64, totalLength(segments))
	for _, s := range segments {
		f, ok := factors[s.ID]
		if !ok || f == 0 {
			return nil, cplcore.ConfigurationError("precond.NewConstant",
				fmt.Errorf("missing or zero constant factor for data %q", s.ID))
		}
		fillSegment(p.weights, s, 1/f)
	}
	p.requireNewQR = true
	return p, nil
}

// NewValue builds a Value preconditioner: w_k = 1/||x_k||_inf on the
// current values, refreshed on each completed step until
// maxNonConstSteps steps have been seen (-1 = always update).
func NewValue(segments []Segment, maxNonConstSteps int) *Preconditioner {
	p := &Preconditioner{kind: Value, segments: segments, maxNonConstSteps: maxNonConstSteps}
	p.weights = uniformWeights(segments)
	return p
}

// NewResidual builds a Residual preconditioner: w_k = 1/||r_k||_inf on
// the current residual, refreshed on each iteration until
// maxNonConstSteps iterations have been seen (-1 = always update).
func NewResidual(segments []Segment, maxNonConstSteps int) *Preconditioner {
	p := &Preconditioner{kind: Residual, segments: segments, maxNonConstSteps: maxNonConstSteps}
	p.weights = uniformWeights(segments)
	return p
}

// NewResidualSum builds a ResidualSum preconditioner: a running sum of
// ||r_k||_2^2 per segment, square-rooted into the weight.
func NewResidualSum(segments []Segment) *Preconditioner {
	p := &Preconditioner{kind: ResidualSum, segments: segments}
	p.weights = uniformWeights(segments)
	p.sumSquares = make([]float64, len(segments))
	return p
}

func uniformWeights(segments []Segment) []float64 {
	w := make([]float64, totalLength(segments))
	for i := range w {
		w[i] = 1
	}
	return w
}

func totalLength(segments []Segment) int {
	n := 0
	for _, s := range segments {
		n += s.Length
	}
	return n
}

func fillSegment(w []float64, s Segment, v float64) {
	for i := s.Offset; i < s.Offset+s.Length; i++ {
		w[i] = v
	}
}

// Kind reports which weighting strategy this Preconditioner uses.
func (p *Preconditioner) Kind() Type { return p.kind }

// RequireNewQR reports whether the weights have changed since the last
// call to ClearRequireNewQR, invalidating any QR factorization of the
// preconditioned V matrix.
func (p *Preconditioner) RequireNewQR() bool { return p.requireNewQR }

// ClearRequireNewQR acknowledges the pending invalidation after a fresh
// QR factorization has been built.
func (p *Preconditioner) ClearRequireNewQR() { p.requireNewQR = false }

// Freeze stops further weight updates, the terminal state every
// non-Constant variant reaches once its update budget is spent.
func (p *Preconditioner) Freeze() { p.frozen = true }

// Frozen reports whether weight updates have stopped.
func (p *Preconditioner) Frozen() bool { return p.frozen }

// UpdateOnIteration refreshes Residual weights from the current residual
// r (length == len(Apply domain)). No-op for other kinds.
func (p *Preconditioner) UpdateOnIteration(r []float64) {
	if p.kind != Residual || p.frozen {
		return
	}
	p.refreshFromInfNorm(r)
	p.stepsSeen++
	p.maybeFreeze()
}

// UpdateOnCompletedStep refreshes Value weights from the just-completed
// step's converged values, and advances ResidualSum's running sum from
// the final residual r of that step. No-op for Constant/Residual.
func (p *Preconditioner) UpdateOnCompletedStep(values, r []float64) {
	switch p.kind {
	case Value:
		if p.frozen {
			return
		}
		p.refreshFromInfNorm(values)
		p.stepsSeen++
		p.maybeFreeze()
	case ResidualSum:
		for i, s := range p.segments {
			sum := 0.0
			for k := s.Offset; k < s.Offset+s.Length; k++ {
				sum += r[k] * r[k]
			}
			p.sumSquares[i] += sum
			w := 1.0
			if p.sumSquares[i] > 0 {
				w = 1 / math.Sqrt(p.sumSquares[i])
			}
			fillSegment(p.weights, s, w)
		}
		p.requireNewQR = true
	}
}

func (p *Preconditioner) refreshFromInfNorm(x []float64) {
	for _, s := range p.segments {
		infNorm := 0.0
		for k := s.Offset; k < s.Offset+s.Length; k++ {
			if a := math.Abs(x[k]); a > infNorm {
				infNorm = a
			}
		}
		w := 1.0
		if infNorm > 0 {
			w = 1 / infNorm
		}
		fillSegment(p.weights, s, w)
	}
	p.requireNewQR = true
}

func (p *Preconditioner) maybeFreeze() {
	if p.maxNonConstSteps >= 0 && p.stepsSeen >= p.maxNonConstSteps {
		p.frozen = true
	}
}

// Weights returns the current per-entry weight vector. Callers must not
// retain a reference across a call that may update it.
func (p *Preconditioner) Weights() []float64 { return p.weights }

// Apply scales x row-wise by w in place: x[i] *= w[i].
func (p *Preconditioner) Apply(x []float64) {
	for i := range x {
		x[i] *= p.weights[i]
	}
}

// Revert undoes Apply in place: x[i] /= w[i].
func (p *Preconditioner) Revert(x []float64) {
	for i := range x {
		x[i] /= p.weights[i]
	}
}

// ApplyRows scales m row-wise by w, the matrix (left-scaling) form of
// Apply used on the V/W history matrices.
func (p *Preconditioner) ApplyRows(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		w := p.weights[i]
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)*w)
		}
	}
}

// RevertRows undoes ApplyRows.
func (p *Preconditioner) RevertRows(m *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		w := p.weights[i]
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)/w)
		}
	}
}

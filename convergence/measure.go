// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package convergence implements the convergence measures: per-field
// predicates over (oldValue, newValue), combined into one overall verdict
// for a coupling iteration.
package convergence

import (
	"fmt"
	"math"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/coupling"
)

// Kind selects which predicate a Measure evaluates.
type Kind int

const (
	Absolute Kind = iota
	Relative
	ResidualRelative
	MinIterations
)

// Measure is one convergence predicate over (oldValue, newValue).
type Measure struct {
	Kind  Kind
	Limit float64
	// MinIter is the iteration-count threshold for the MinIterations kind.
	MinIter int

	// firstIterationResidual caches ‖new − old‖₂ at iteration 1, needed by
	// ResidualRelative. Reset by Reset.
	firstIterationResidual float64
	haveFirstIteration     bool

	lastResidualNorm float64
}

// NewAbsolute returns a Measure that passes when ‖new − old‖₂ < limit.
func NewAbsolute(limit float64) *Measure { return &Measure{Kind: Absolute, Limit: limit} }

// NewRelative returns a Measure that passes when
// ‖new − old‖₂ / ‖new‖₂ < limit.
func NewRelative(limit float64) *Measure { return &Measure{Kind: Relative, Limit: limit} }

// NewResidualRelative returns a Measure that passes when
// ‖new − old‖₂ / ‖new − old at iteration 1‖₂ < limit.
func NewResidualRelative(limit float64) *Measure { return &Measure{Kind: ResidualRelative, Limit: limit} }

// NewMinIterations returns a Measure that passes once the iteration counter
// reaches n.
func NewMinIterations(n int) *Measure { return &Measure{Kind: MinIterations, MinIter: n} }

// New builds the Measure one validated configuration entry describes.
func New(cfg config.ConvergenceMeasureConfig) (*Measure, error) {
	switch cfg.Measure {
	case config.MeasureAbsolute:
		return NewAbsolute(cfg.Limit), nil
	case config.MeasureRelative:
		return NewRelative(cfg.Limit), nil
	case config.MeasureResidualRelative:
		return NewResidualRelative(cfg.Limit), nil
	case config.MeasureMinIterations:
		return NewMinIterations(cfg.MinIterations), nil
	default:
		return nil, cplcore.ConfigurationError("convergence.New",
			fmt.Errorf("unknown measure type %v", cfg.Measure))
	}
}

// Reset clears the iteration-1 residual cache, called at the start of each
// new time step.
func (m *Measure) Reset() {
	m.haveFirstIteration = false
	m.firstIterationResidual = 0
	m.lastResidualNorm = 0
}

// LastResidualNorm returns ‖new − old‖₂ from the most recent Evaluate call.
func (m *Measure) LastResidualNorm() float64 { return m.lastResidualNorm }

// Evaluate applies the measure to oldValue/newValue (equal length,
// globally MPI-reduced norms already folded in by the caller) at the given
// 1-based iteration count, and reports whether it passes.
func (m *Measure) Evaluate(oldValue, newValue []float64, iteration int) (bool, error) {
	if m.Kind == MinIterations {
		return iteration >= m.MinIter, nil
	}
	if len(oldValue) != len(newValue) {
		return false, cplcore.ProtocolError("convergence.Evaluate", cplcore.ErrLengthMismatch)
	}

	residualNorm := diffNorm(oldValue, newValue)
	m.lastResidualNorm = residualNorm

	switch m.Kind {
	case Absolute:
		return residualNorm < m.Limit, nil
	case Relative:
		newNorm := norm2(newValue)
		if newNorm == 0 {
			return residualNorm == 0, nil
		}
		return residualNorm/newNorm < m.Limit, nil
	case ResidualRelative:
		if !m.haveFirstIteration {
			m.firstIterationResidual = residualNorm
			m.haveFirstIteration = true
		}
		if m.firstIterationResidual == 0 {
			return residualNorm == 0, nil
		}
		return residualNorm/m.firstIterationResidual < m.Limit, nil
	default:
		return false, cplcore.ConfigurationError("convergence.Evaluate", fmt.Errorf("unknown measure kind %d", m.Kind))
	}
}

func diffNorm(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := b[i] - a[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func norm2(a []float64) float64 {
	sum := 0.0
	for _, v := range a {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Entry pairs one Measure with the field it watches and whether passing it
// alone suffices for overall convergence.
type Entry struct {
	DataID   coupling.DataID
	Measure  *Measure
	Suffices bool
}

// Set is a scheme's list of (dataID, measure, suffices) entries, combined
// into one verdict: all non-suffices measures must pass AND at least one
// suffices measure must pass (if any exist).
type Set struct {
	entries []Entry
}

// NewSet creates an empty convergence measure set.
func NewSet() *Set { return &Set{} }

// Add registers a measure entry.
func (s *Set) Add(e Entry) { s.entries = append(s.entries, e) }

// Entries returns every registered entry, in registration order.
func (s *Set) Entries() []Entry { return s.entries }

// Reset resets every registered measure's per-step state.
func (s *Set) Reset() {
	for _, e := range s.entries {
		e.Measure.Reset()
	}
}

// Evaluate looks up each entry's field by DataID in values (oldValue,
// newValue pairs keyed by DataID) and combines the per-field verdicts.
func (s *Set) Evaluate(values map[coupling.DataID][2][]float64, iteration int) (bool, error) {
	anySuffices := false
	sufficesPassed := false
	allRequiredPass := true

	for _, e := range s.entries {
		pair, ok := values[e.DataID]
		if !ok {
			return false, cplcore.UsageError("convergence.Evaluate", fmt.Errorf("no values supplied for data %q", e.DataID))
		}
		passed, err := e.Measure.Evaluate(pair[0], pair[1], iteration)
		if err != nil {
			return false, err
		}
		if e.Suffices {
			anySuffices = true
			if passed {
				sufficesPassed = true
			}
			continue
		}
		if !passed {
			allRequiredPass = false
		}
	}

	if anySuffices {
		return allRequiredPass && sufficesPassed, nil
	}
	return allRequiredPass, nil
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package accel implements the quasi-Newton acceleration / post-processing
// core: the central operation PerformPostProcessing transforms a coupling
// iteration's received iterate in place using the history of residuals and
// iterate differences, via one of five variants kept as a closed tagged
// union rather than an open interface hierarchy, so restart and filter
// modes can be matched on uniformly and tests can enumerate the domain.
package accel

import (
	"fmt"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/accel/precond"
	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/coordinator"
	"github.com/precice-go/cplcore/coupling"
)

// Deps are the external collaborators an Accelerator needs.
type Deps struct {
	Log log.Logger
	// IterationsPerStep, when non-nil, observes the iteration count of
	// every completed time step.
	IterationsPerStep metric.Averager
	// RelaxationFactor, when non-nil, observes the scalar relaxation
	// factor of every iteration: the constant or current Aitken factor,
	// or the initial relaxation of IQN-ILS/IQN-IMVJ. HierarchicalAitken,
	// whose factor differs per level, reports none.
	RelaxationFactor metric.Averager
	// Coordinator is consulted by IQN-IMVJ's restart-mode chunk evaluation
	// to turn each Z_q*v product into a single distributed multiply
	// (accel/distmat.MultiplyToReplicated). Nil defaults to
	// coordinator.NewLocal, the single-rank case.
	Coordinator coordinator.Coordinator
}

// Accelerator is the tagged union of the five post-processing variants,
// sharing the V/W History and Preconditioner state common to every variant
// that uses them (Constant relaxation uses neither).
type Accelerator struct {
	kind config.AccelerationType

	order    []coupling.DataID
	segments []precond.Segment
	n        int

	pc *precond.Preconditioner

	// history is shared by IQN-ILS and IMVJ; unused by
	// Constant/Aitken/HierarchicalAitken.
	history *History

	constantOmega float64
	aitken        *aitkenState
	hAitken       *hierarchicalAitkenState
	iqnils        *iqnILSState
	imvj          *imvjState

	prevR, prevValues []float64
	firstIterOfStep   bool
	iterationsThisStep int

	log               log.Logger
	iterationsPerStep metric.Averager
	relaxationFactor  metric.Averager
}

// New constructs the Accelerator selected by cfg.Type. order fixes the
// deterministic field ordering the concatenated vector uses across calls;
// sizes gives each field's local length (vertexCount*dataDim).
func New(cfg *config.AccelerationConfig, order []coupling.DataID, sizes map[coupling.DataID]int, deps Deps) (*Accelerator, error) {
	if len(order) == 0 {
		return nil, cplcore.ConfigurationError("accel.New", fmt.Errorf("at least one data field is required"))
	}
	for _, v := range cfg.DesignSpecification {
		if v != 0 {
			// The config type stores the value; construction rejects a nonzero
			// one outright rather than silently ignoring it.
			return nil, cplcore.NotImplementedError("accel.New",
				fmt.Errorf("design specification is not supported by this acceleration core"))
		}
	}

	segments := make([]precond.Segment, 0, len(order))
	offset := 0
	for _, id := range order {
		n, ok := sizes[id]
		if !ok || n < 0 {
			return nil, cplcore.ConfigurationError("accel.New", fmt.Errorf("missing size for data %q", id))
		}
		segments = append(segments, precond.Segment{ID: id, Offset: offset, Length: n})
		offset += n
	}
	n := offset

	l := deps.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}

	a := &Accelerator{
		kind: cfg.Type, order: append([]coupling.DataID(nil), order...), segments: segments, n: n,
		constantOmega: cfg.InitialRelaxation, firstIterOfStep: true,
		log: l, iterationsPerStep: deps.IterationsPerStep, relaxationFactor: deps.RelaxationFactor,
	}

	pc, err := newPreconditioner(cfg, segments)
	if err != nil {
		return nil, err
	}
	a.pc = pc

	switch cfg.Type {
	case config.AccelerationConstant:
		// no extra state
	case config.AccelerationAitken:
		a.aitken = newAitkenState(cfg.InitialRelaxation)
	case config.AccelerationHierarchicalAitken:
		h, err := newHierarchicalAitkenState(n, cfg.InitialRelaxation)
		if err != nil {
			return nil, err
		}
		a.hAitken = h
	case config.AccelerationIQNILS:
		a.history = NewHistory(n, cfg.MaxUsedIterations, cfg.TimestepsReused)
		a.iqnils = newIQNILSState(cfg.Filter, cfg.SingularityLimit, cfg.InitialRelaxation)
	case config.AccelerationIQNIMVJ:
		a.history = NewHistory(n, cfg.MaxUsedIterations, cfg.TimestepsReused)
		coord := deps.Coordinator
		if coord == nil {
			coord = coordinator.NewLocal(coordinator.Deps{Log: l})
		}
		a.imvj = newIMVJState(cfg, n, coord)
	default:
		return nil, cplcore.ConfigurationError("accel.New", fmt.Errorf("unknown acceleration type %v", cfg.Type))
	}
	return a, nil
}

func newPreconditioner(cfg *config.AccelerationConfig, segments []precond.Segment) (*precond.Preconditioner, error) {
	switch cfg.Preconditioner {
	case config.PreconditionerConstant:
		factors := make(map[coupling.DataID]float64, len(cfg.ConstantFactors))
		for k, v := range cfg.ConstantFactors {
			factors[coupling.DataID(k)] = v
		}
		return precond.NewConstant(segments, factors)
	case config.PreconditionerValue:
		return precond.NewValue(segments, cfg.MaxNonConstTimesteps), nil
	case config.PreconditionerResidual:
		return precond.NewResidual(segments, cfg.MaxNonConstTimesteps), nil
	case config.PreconditionerResidualSum:
		return precond.NewResidualSum(segments), nil
	default:
		return nil, cplcore.ConfigurationError("accel.New", fmt.Errorf("unknown preconditioner %v", cfg.Preconditioner))
	}
}

// Kind reports the selected acceleration variant.
func (a *Accelerator) Kind() config.AccelerationType { return a.kind }

// PerformPostProcessing is the central operation: it reads
// each field's current iterate and most recently completed step's value
// out of dataMap, transforms the concatenated iterate in place, and writes
// the result back. iteration is the 1-based coupling-iteration counter
// within the current time step.
func (a *Accelerator) PerformPostProcessing(dataMap map[coupling.DataID]*coupling.Data, iteration int) error {
	values, oldValues, err := a.gather(dataMap)
	if err != nil {
		return err
	}
	r := sub(values, oldValues)

	a.pc.UpdateOnIteration(r)

	out, omega, err := a.transform(values, oldValues, r, iteration)
	if err != nil {
		return err
	}

	if omega >= 0 && a.relaxationFactor != nil {
		a.relaxationFactor.Observe(omega)
	}
	a.log.Debug("transformed iterate", "iteration", iteration, "omega", omega)

	a.iterationsThisStep = iteration
	return a.scatter(dataMap, out)
}

// transform dispatches to the selected variant. Values passed in and
// returned are in the original (unpreconditioned) space; variants that
// need the preconditioned space apply/revert it internally.
func (a *Accelerator) transform(values, oldValues, r []float64, iteration int) (out []float64, omega float64, err error) {
	switch a.kind {
	case config.AccelerationConstant:
		out = append([]float64(nil), values...)
		ConstantRelax(out, oldValues, a.constantOmega)
		return out, a.constantOmega, nil

	case config.AccelerationAitken:
		out = append([]float64(nil), values...)
		a.aitken.apply(out, oldValues, r)
		return out, a.aitken.omegaPrev, nil

	case config.AccelerationHierarchicalAitken:
		out = append([]float64(nil), values...)
		a.hAitken.apply(out, oldValues)
		return out, -1, nil

	case config.AccelerationIQNILS:
		return a.runIQNILS(values, oldValues, r, iteration)

	case config.AccelerationIQNIMVJ:
		return a.runIMVJ(values, oldValues, r, iteration)

	default:
		return nil, 0, cplcore.ConfigurationError("accel.transform", fmt.Errorf("unknown acceleration type %v", a.kind))
	}
}

// runIQNILS/runIMVJ keep the V/W history in the unpreconditioned space and
// let the variant apply the current weights at use time, so a weight
// refresh between iterations rescales every retained column consistently
// instead of leaving older columns in a stale space.
func (a *Accelerator) runIQNILS(values, oldValues, r []float64, iteration int) ([]float64, float64, error) {
	if !a.firstIterOfStep {
		a.history.Prepend(sub(r, a.prevR), sub(values, a.prevValues))
	}

	out := a.iqnils.apply(a.history, a.pc, r, oldValues)

	a.prevR = append([]float64(nil), r...)
	a.prevValues = append([]float64(nil), values...)
	a.firstIterOfStep = false
	return out, a.iqnils.omegaInit, nil
}

func (a *Accelerator) runIMVJ(values, oldValues, r []float64, iteration int) ([]float64, float64, error) {
	if !a.firstIterOfStep {
		a.history.Prepend(sub(r, a.prevR), sub(values, a.prevValues))
	}

	out := a.imvj.apply(a.history, a.pc, r, oldValues)

	a.prevR = append([]float64(nil), r...)
	a.prevValues = append([]float64(nil), values...)
	a.firstIterOfStep = false
	return out, a.imvj.omegaInit, nil
}

// Gather concatenates dataMap's current and most-recently-completed-step
// values in this Accelerator's field order, the same layout
// OnTimestepComplete's finalValues/finalOldValues arguments expect.
func (a *Accelerator) Gather(dataMap map[coupling.DataID]*coupling.Data) (values, oldValues []float64, err error) {
	return a.gather(dataMap)
}

// OnTimestepComplete folds the current step's history into the retained
// deque, advances the preconditioner's completed-step update, resets
// per-step relaxation state, and (for IMVJ) rebuilds the Jacobian or forms
// a new restart-mode factor pair.
func (a *Accelerator) OnTimestepComplete(finalValues, finalOldValues []float64) {
	if a.iterationsPerStep != nil {
		a.iterationsPerStep.Observe(float64(a.iterationsThisStep))
	}
	a.log.Debug("folding completed step into acceleration history", "iterations", a.iterationsThisStep)
	r := sub(finalValues, finalOldValues)
	a.pc.UpdateOnCompletedStep(finalValues, r)

	switch a.kind {
	case config.AccelerationAitken:
		a.aitken.onTimestepComplete()
	case config.AccelerationHierarchicalAitken:
		a.hAitken.onTimestepComplete()
	case config.AccelerationIQNILS:
		a.history.CompleteStep()
	case config.AccelerationIQNIMVJ:
		a.imvj.onTimestepComplete(a.history, a.pc)
		a.history.CompleteStep()
	}

	a.prevR = nil
	a.prevValues = nil
	a.firstIterOfStep = true
	a.iterationsThisStep = 0
}

func (a *Accelerator) gather(dataMap map[coupling.DataID]*coupling.Data) (values, oldValues []float64, err error) {
	values = make([]float64, a.n)
	oldValues = make([]float64, a.n)
	for _, s := range a.segments {
		d, ok := dataMap[s.ID]
		if !ok {
			return nil, nil, cplcore.UsageError("accel.PerformPostProcessing", fmt.Errorf("no data supplied for field %q", s.ID))
		}
		v := d.Values()
		if len(v) != s.Length {
			return nil, nil, cplcore.ProtocolError("accel.PerformPostProcessing", cplcore.ErrLengthMismatch)
		}
		copy(values[s.Offset:s.Offset+s.Length], v)

		old, err := d.OldColumn(0)
		if err != nil {
			return nil, nil, err
		}
		copy(oldValues[s.Offset:s.Offset+s.Length], old)
	}
	return values, oldValues, nil
}

func (a *Accelerator) scatter(dataMap map[coupling.DataID]*coupling.Data, out []float64) error {
	for _, s := range a.segments {
		d := dataMap[s.ID]
		if err := d.SetValues(out[s.Offset : s.Offset+s.Length]); err != nil {
			return err
		}
	}
	return nil
}

func sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

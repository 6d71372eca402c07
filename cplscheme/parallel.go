// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme

import (
	"fmt"

	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/accel"
	"github.com/precice-go/cplcore/convergence"
	"github.com/precice-go/cplcore/coupling"
	"github.com/precice-go/cplcore/m2n"
)

// ParallelScheme is the Jacobi-like ParallelCouplingScheme:
// both participants send and receive within the same sub-step (no
// staggered ordering), and the implicit variant's controller runs
// convergence measures over its received data and post-processing
// combined over all exchanged data, broadcasting the verdict to its
// partner.
type ParallelScheme struct {
	base *BaseScheme
	log  log.Logger

	controller bool
	ch         m2n.M2N

	sendData    []*coupling.Data
	receiveData []*coupling.Data

	conv *convergence.Set
	acc  *accel.Accelerator
}

// NewParallel constructs a ParallelScheme. conv/acc are meaningful only
// when controller is true.
func NewParallel(cfg Config, controller bool, ch m2n.M2N, sendData, receiveData []*coupling.Data, conv *convergence.Set, acc *accel.Accelerator, l log.Logger) *ParallelScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &ParallelScheme{
		base: NewBase(cfg, l), log: l, controller: controller, ch: ch,
		sendData: sendData, receiveData: receiveData, conv: conv, acc: acc,
	}
}

func (p *ParallelScheme) Initialize(startTime float64, startTimestep int) error {
	p.base.MarkInitialized(startTime, startTimestep)
	if p.base.Config().InitializeData && p.base.Config().IsInitialDataWriter {
		p.base.RequireAction(cplcore.ActionWriteInitialData)
	}
	return nil
}

func (p *ParallelScheme) InitializeData() error {
	if !p.base.Config().InitializeData {
		return nil
	}
	if p.base.Config().IsInitialDataWriter {
		if err := p.base.PerformedAction(cplcore.ActionWriteInitialData); err != nil {
			return err
		}
	}
	if err := sendAll(p.ch, p.sendData); err != nil {
		return err
	}
	if err := receiveAll(p.ch, p.receiveData); err != nil {
		return err
	}
	if p.base.Config().IsInitialDataWriter && p.base.Config().ResetInitialDataWriter {
		for _, d := range p.sendData {
			zero := make([]float64, len(d.Values()))
			_ = d.SetValues(zero)
		}
	}
	return nil
}

func (p *ParallelScheme) AddComputedTime(dt float64) error { return p.base.AddComputedTime(dt) }

func (p *ParallelScheme) Advance() (float64, error) {
	if !p.base.Initialized() {
		return 0, cplcore.UsageError("cplscheme.ParallelScheme.Advance", fmt.Errorf("scheme not initialized"))
	}
	if err := p.base.CheckActionsFulfilled(); err != nil {
		return 0, err
	}
	p.base.BeginIteration()

	// Both participants send and receive within the same sub-step: the
	// full-duplex channel makes a fixed send-then-receive order deadlock
	// free on either side.
	if err := sendAll(p.ch, p.sendData); err != nil {
		return 0, err
	}
	if err := receiveAll(p.ch, p.receiveData); err != nil {
		return 0, err
	}
	p.base.MarkDataExchanged()

	implicit := p.base.Config().Implicit
	var converged bool
	if p.controller {
		var err error
		converged, err = p.evaluateAndAccelerate(implicit)
		if err != nil {
			return 0, err
		}
		if implicit {
			if err := sendControl(p.ch, converged, converged, p.base.GetNextTimestepMaxLength()); err != nil {
				return 0, err
			}
		}
	} else if implicit {
		var err error
		converged, _, _, err = receiveControl(p.ch)
		if err != nil {
			return 0, err
		}
		if p.acc != nil {
			if err := p.acc.PerformPostProcessing(dataMapOf(p.sendData, p.receiveData), p.base.Iteration()); err != nil {
				return 0, err
			}
		}
	} else {
		converged = true
	}

	p.finishIteration(converged, implicit)
	return p.base.GetNextTimestepMaxLength(), nil
}

// evaluateAndAccelerate runs the controller's combined-over-all-data
// convergence measures then post-processing.
func (p *ParallelScheme) evaluateAndAccelerate(implicit bool) (bool, error) {
	if !implicit {
		return true, nil
	}
	converged := true
	if p.conv != nil {
		values, err := measureValues(p.receiveData)
		if err != nil {
			return false, err
		}
		converged, err = p.conv.Evaluate(values, p.base.Iteration())
		if err != nil {
			return false, err
		}
	}
	if p.base.ReachedMaxIterations() {
		converged = true
	}
	if p.acc != nil {
		if err := p.acc.PerformPostProcessing(dataMapOf(p.sendData, p.receiveData), p.base.Iteration()); err != nil {
			return false, err
		}
	}
	return converged, nil
}

func (p *ParallelScheme) finishIteration(converged, implicit bool) {
	if converged {
		if p.acc != nil {
			values, oldValues, err := p.acc.Gather(dataMapOf(p.sendData, p.receiveData))
			if err == nil {
				p.acc.OnTimestepComplete(values, oldValues)
			}
		}
		completeAll(p.sendData)
		completeAll(p.receiveData)
		if p.conv != nil {
			p.conv.Reset()
		}
		p.base.CompleteTimestep()
		p.log.Debug("coupling timestep complete", "timestep", p.base.GetTimesteps())
		if implicit {
			p.base.RequireAction(cplcore.ActionWriteIterationCheckpoint)
		}
		return
	}
	p.base.RequireAction(cplcore.ActionReadIterationCheckpoint)
}

func (p *ParallelScheme) Finalize() error { return p.ch.Close() }

func (p *ParallelScheme) IsCouplingOngoing() bool          { return p.base.IsCouplingOngoing() }
func (p *ParallelScheme) IsCouplingTimestepComplete() bool { return p.base.IsCouplingTimestepComplete() }
func (p *ParallelScheme) IsActionRequired(a cplcore.Action) bool { return p.base.IsActionRequired(a) }
func (p *ParallelScheme) PerformedAction(a cplcore.Action) error { return p.base.PerformedAction(a) }
func (p *ParallelScheme) HasDataBeenExchanged() bool             { return p.base.HasDataBeenExchanged() }
func (p *ParallelScheme) GetTime() float64                       { return p.base.GetTime() }
func (p *ParallelScheme) GetTimesteps() int                      { return p.base.GetTimesteps() }
func (p *ParallelScheme) GetNextTimestepMaxLength() float64       { return p.base.GetNextTimestepMaxLength() }

var _ Scheme = (*ParallelScheme)(nil)

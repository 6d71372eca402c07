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

// Role distinguishes the two participants of a SerialCouplingScheme.
type Role int

const (
	// RoleFirst sends before it receives.
	RoleFirst Role = iota
	// RoleSecond receives, computes, then sends back, and is the
	// convergence/post-processing controller for the implicit variant.
	RoleSecond
)

// SerialScheme is the staggered SerialCouplingScheme: the
// first participant sends, the second receives, computes, and sends back,
// and the first then receives. The implicit variant iterates this exchange
// until the controller's (second participant's) convergence measures pass,
// broadcasting the verdict to the first participant on every iteration.
type SerialScheme struct {
	base *BaseScheme
	log  log.Logger

	role Role
	ch   m2n.M2N

	sendData    []*coupling.Data
	receiveData []*coupling.Data

	// conv and acc are nil on RoleFirst; the controller (RoleSecond) owns
	// them.
	conv *convergence.Set
	acc  *accel.Accelerator
}

// NewSerial constructs a SerialScheme. sendData/receiveData are this
// participant's own exchanged fields; conv/acc are non-nil only for
// RoleSecond in the implicit variant.
func NewSerial(cfg Config, role Role, ch m2n.M2N, sendData, receiveData []*coupling.Data, conv *convergence.Set, acc *accel.Accelerator, l log.Logger) *SerialScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &SerialScheme{
		base: NewBase(cfg, l), log: l, role: role, ch: ch,
		sendData: sendData, receiveData: receiveData, conv: conv, acc: acc,
	}
}

func (s *SerialScheme) Initialize(startTime float64, startTimestep int) error {
	s.base.MarkInitialized(startTime, startTimestep)
	if s.base.Config().InitializeData && s.base.Config().IsInitialDataWriter {
		s.base.RequireAction(cplcore.ActionWriteInitialData)
	}
	return nil
}

func (s *SerialScheme) InitializeData() error {
	if !s.base.Config().InitializeData {
		return nil
	}
	if s.base.Config().IsInitialDataWriter {
		if err := s.base.PerformedAction(cplcore.ActionWriteInitialData); err != nil {
			return err
		}
	}
	if s.role == RoleFirst {
		if err := sendAll(s.ch, s.sendData); err != nil {
			return err
		}
		if err := receiveAll(s.ch, s.receiveData); err != nil {
			return err
		}
	} else {
		if err := receiveAll(s.ch, s.receiveData); err != nil {
			return err
		}
		if err := sendAll(s.ch, s.sendData); err != nil {
			return err
		}
	}
	if s.base.Config().IsInitialDataWriter && s.base.Config().ResetInitialDataWriter {
		for _, d := range s.sendData {
			zero := make([]float64, len(d.Values()))
			_ = d.SetValues(zero)
		}
	}
	return nil
}

func (s *SerialScheme) AddComputedTime(dt float64) error { return s.base.AddComputedTime(dt) }

// Advance runs one staggered exchange. The convergence measures and
// post-processing live only on the controller (RoleSecond); RoleFirst
// adopts the controller's verdict from the control broadcast.
func (s *SerialScheme) Advance() (float64, error) {
	if !s.base.Initialized() {
		return 0, cplcore.UsageError("cplscheme.SerialScheme.Advance", fmt.Errorf("scheme not initialized"))
	}
	if err := s.base.CheckActionsFulfilled(); err != nil {
		return 0, err
	}
	s.base.BeginIteration()

	if s.role == RoleFirst {
		if err := sendAll(s.ch, s.sendData); err != nil {
			return 0, err
		}
		if err := receiveAll(s.ch, s.receiveData); err != nil {
			return 0, err
		}
	} else {
		if err := receiveAll(s.ch, s.receiveData); err != nil {
			return 0, err
		}
		if err := sendAll(s.ch, s.sendData); err != nil {
			return 0, err
		}
	}
	s.base.MarkDataExchanged()

	implicit := s.base.Config().Implicit
	var converged bool
	if s.role == RoleSecond {
		var err error
		converged, err = s.evaluateAndAccelerate(implicit)
		if err != nil {
			return 0, err
		}
		if implicit {
			nextDt := s.base.GetNextTimestepMaxLength()
			if err := sendControl(s.ch, converged, converged, nextDt); err != nil {
				return 0, err
			}
		}
	} else if implicit {
		var err error
		converged, _, _, err = receiveControl(s.ch)
		if err != nil {
			return 0, err
		}
	} else {
		converged = true
	}

	s.finishIteration(converged, implicit)
	return s.base.GetNextTimestepMaxLength(), nil
}

// evaluateAndAccelerate runs the controller's convergence measures (if
// implicit), then post-processing.
func (s *SerialScheme) evaluateAndAccelerate(implicit bool) (bool, error) {
	if !implicit {
		return true, nil
	}
	converged := true
	if s.conv != nil {
		values, err := measureValues(s.receiveData)
		if err != nil {
			return false, err
		}
		converged, err = s.conv.Evaluate(values, s.base.Iteration())
		if err != nil {
			return false, err
		}
	}
	if s.base.ReachedMaxIterations() {
		converged = true
	}
	if s.acc != nil {
		if err := s.acc.PerformPostProcessing(dataMapOf(s.sendData, s.receiveData), s.base.Iteration()); err != nil {
			return false, err
		}
	}
	return converged, nil
}

func (s *SerialScheme) finishIteration(converged, implicit bool) {
	if converged {
		if s.acc != nil {
			values, oldValues, err := s.acc.Gather(dataMapOf(s.sendData, s.receiveData))
			if err == nil {
				s.acc.OnTimestepComplete(values, oldValues)
			}
		}
		completeAll(s.sendData)
		completeAll(s.receiveData)
		if s.conv != nil {
			s.conv.Reset()
		}
		s.base.CompleteTimestep()
		s.log.Debug("coupling timestep complete", "timestep", s.base.GetTimesteps(), "time", s.base.GetTime())
		if implicit {
			s.base.RequireAction(cplcore.ActionWriteIterationCheckpoint)
		}
		return
	}
	s.log.Debug("iteration did not converge, repeating", "iteration", s.base.Iteration())
	s.base.RequireAction(cplcore.ActionReadIterationCheckpoint)
}

func (s *SerialScheme) Finalize() error { return s.ch.Close() }

func (s *SerialScheme) IsCouplingOngoing() bool          { return s.base.IsCouplingOngoing() }
func (s *SerialScheme) IsCouplingTimestepComplete() bool { return s.base.IsCouplingTimestepComplete() }
func (s *SerialScheme) IsActionRequired(a cplcore.Action) bool { return s.base.IsActionRequired(a) }
func (s *SerialScheme) PerformedAction(a cplcore.Action) error { return s.base.PerformedAction(a) }
func (s *SerialScheme) HasDataBeenExchanged() bool             { return s.base.HasDataBeenExchanged() }
func (s *SerialScheme) GetTime() float64                       { return s.base.GetTime() }
func (s *SerialScheme) GetTimesteps() int                      { return s.base.GetTimesteps() }
func (s *SerialScheme) GetNextTimestepMaxLength() float64      { return s.base.GetNextTimestepMaxLength() }

var _ Scheme = (*SerialScheme)(nil)

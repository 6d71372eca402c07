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

// MultiLeg is one participant's exchange relative to the controller in a
// MultiCouplingScheme: the controller holds one leg per other participant;
// a non-controller participant holds exactly one leg, to the controller.
type MultiLeg struct {
	Channel     m2n.M2N
	SendData    []*coupling.Data // controller -> this peer (or self -> controller)
	ReceiveData []*coupling.Data // this peer -> controller (or controller -> self)
}

// MultiScheme is the MultiCouplingScheme: one distinguished
// controller participant communicates with every other participant over
// its own MultiLeg; convergence is measured globally at the controller over
// every leg's combined data and the verdict is broadcast to each leg.
type MultiScheme struct {
	base *BaseScheme
	log  log.Logger

	controller bool
	legs       []MultiLeg // len == n-1 on the controller, len == 1 elsewhere

	conv *convergence.Set
	acc  *accel.Accelerator
}

// NewMulti constructs a MultiScheme. conv/acc are meaningful only when
// controller is true.
func NewMulti(cfg Config, controller bool, legs []MultiLeg, conv *convergence.Set, acc *accel.Accelerator, l log.Logger) *MultiScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &MultiScheme{base: NewBase(cfg, l), log: l, controller: controller, legs: legs, conv: conv, acc: acc}
}

func (m *MultiScheme) Initialize(startTime float64, startTimestep int) error {
	m.base.MarkInitialized(startTime, startTimestep)
	if m.base.Config().InitializeData && m.base.Config().IsInitialDataWriter {
		m.base.RequireAction(cplcore.ActionWriteInitialData)
	}
	return nil
}

func (m *MultiScheme) InitializeData() error {
	if !m.base.Config().InitializeData {
		return nil
	}
	if m.base.Config().IsInitialDataWriter {
		if err := m.base.PerformedAction(cplcore.ActionWriteInitialData); err != nil {
			return err
		}
	}
	for _, leg := range m.legs {
		if err := sendAll(leg.Channel, leg.SendData); err != nil {
			return err
		}
		if err := receiveAll(leg.Channel, leg.ReceiveData); err != nil {
			return err
		}
	}
	if m.base.Config().IsInitialDataWriter && m.base.Config().ResetInitialDataWriter {
		for _, leg := range m.legs {
			for _, d := range leg.SendData {
				zero := make([]float64, len(d.Values()))
				_ = d.SetValues(zero)
			}
		}
	}
	return nil
}

func (m *MultiScheme) AddComputedTime(dt float64) error { return m.base.AddComputedTime(dt) }

func (m *MultiScheme) Advance() (float64, error) {
	if !m.base.Initialized() {
		return 0, cplcore.UsageError("cplscheme.MultiScheme.Advance", fmt.Errorf("scheme not initialized"))
	}
	if err := m.base.CheckActionsFulfilled(); err != nil {
		return 0, err
	}
	m.base.BeginIteration()

	// Every participant sends on all its legs before receiving on any: the
	// buffered full-duplex channels absorb the sends, so the controller and
	// its peers never block on each other's receive.
	for _, leg := range m.legs {
		if err := sendAll(leg.Channel, leg.SendData); err != nil {
			return 0, err
		}
	}
	for _, leg := range m.legs {
		if err := receiveAll(leg.Channel, leg.ReceiveData); err != nil {
			return 0, err
		}
	}
	m.base.MarkDataExchanged()

	implicit := m.base.Config().Implicit
	var converged bool
	if m.controller {
		var err error
		converged, err = m.evaluateAndAccelerate(implicit)
		if err != nil {
			return 0, err
		}
		if implicit {
			nextDt := m.base.GetNextTimestepMaxLength()
			m.log.Debug("broadcasting convergence verdict", "converged", converged, "legs", len(m.legs))
			for _, leg := range m.legs {
				if err := sendControl(leg.Channel, converged, converged, nextDt); err != nil {
					return 0, err
				}
			}
		}
	} else if implicit {
		var err error
		converged, _, _, err = receiveControl(m.legs[0].Channel)
		if err != nil {
			return 0, err
		}
		if m.acc != nil {
			if err := m.acc.PerformPostProcessing(m.combinedDataMap(), m.base.Iteration()); err != nil {
				return 0, err
			}
		}
	} else {
		converged = true
	}

	m.finishIteration(converged, implicit)
	return m.base.GetNextTimestepMaxLength(), nil
}

func (m *MultiScheme) combinedDataMap() map[coupling.DataID]*coupling.Data {
	groups := make([][]*coupling.Data, 0, len(m.legs)*2)
	for _, leg := range m.legs {
		groups = append(groups, leg.SendData, leg.ReceiveData)
	}
	return dataMapOf(groups...)
}

// evaluateAndAccelerate runs the controller's global convergence measures
// over every leg's received data combined, then post-processing.
func (m *MultiScheme) evaluateAndAccelerate(implicit bool) (bool, error) {
	if !implicit {
		return true, nil
	}
	converged := true
	if m.conv != nil {
		var all []*coupling.Data
		for _, leg := range m.legs {
			all = append(all, leg.ReceiveData...)
		}
		values, err := measureValues(all)
		if err != nil {
			return false, err
		}
		converged, err = m.conv.Evaluate(values, m.base.Iteration())
		if err != nil {
			return false, err
		}
	}
	if m.base.ReachedMaxIterations() {
		converged = true
	}
	if m.acc != nil {
		if err := m.acc.PerformPostProcessing(m.combinedDataMap(), m.base.Iteration()); err != nil {
			return false, err
		}
	}
	return converged, nil
}

func (m *MultiScheme) finishIteration(converged, implicit bool) {
	if converged {
		if m.acc != nil {
			values, oldValues, err := m.acc.Gather(m.combinedDataMap())
			if err == nil {
				m.acc.OnTimestepComplete(values, oldValues)
			}
		}
		for _, leg := range m.legs {
			completeAll(leg.SendData)
			completeAll(leg.ReceiveData)
		}
		if m.conv != nil {
			m.conv.Reset()
		}
		m.base.CompleteTimestep()
		if implicit {
			m.base.RequireAction(cplcore.ActionWriteIterationCheckpoint)
		}
		return
	}
	m.base.RequireAction(cplcore.ActionReadIterationCheckpoint)
}

func (m *MultiScheme) Finalize() error {
	var firstErr error
	for _, leg := range m.legs {
		if err := leg.Channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiScheme) IsCouplingOngoing() bool          { return m.base.IsCouplingOngoing() }
func (m *MultiScheme) IsCouplingTimestepComplete() bool { return m.base.IsCouplingTimestepComplete() }
func (m *MultiScheme) IsActionRequired(a cplcore.Action) bool { return m.base.IsActionRequired(a) }
func (m *MultiScheme) PerformedAction(a cplcore.Action) error { return m.base.PerformedAction(a) }
func (m *MultiScheme) HasDataBeenExchanged() bool             { return m.base.HasDataBeenExchanged() }
func (m *MultiScheme) GetTime() float64                       { return m.base.GetTime() }
func (m *MultiScheme) GetTimesteps() int                      { return m.base.GetTimesteps() }
func (m *MultiScheme) GetNextTimestepMaxLength() float64       { return m.base.GetNextTimestepMaxLength() }

var _ Scheme = (*MultiScheme)(nil)

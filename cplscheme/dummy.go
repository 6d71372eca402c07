// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme

import (
	"fmt"

	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
)

// DummyConfig configures a DummyScheme.
type DummyConfig struct {
	// IterationsToConverge is the number of Advance calls one time step
	// requires before the scheme reports convergence. <= 1 means the scheme
	// is explicit: every Advance call completes a step and no checkpoint
	// action is ever required.
	IterationsToConverge int
	TimestepLength       float64
	MaxTimesteps         int
}

// DummyScheme is a zero-dependency Scheme implementation that performs no
// real data exchange: it advances time, optionally requires N iterations
// before declaring convergence, and requires the checkpoint actions a real
// implicit scheme would. It exists purely to drive composition and
// timestep-counting tests without two real solvers.
type DummyScheme struct {
	cfg DummyConfig
	log log.Logger

	initialized bool
	time        float64
	timestep    int
	iteration   int
	ongoing     bool
	complete    bool

	required map[cplcore.Action]bool
}

// NewDummy constructs a DummyScheme.
func NewDummy(cfg DummyConfig, l log.Logger) *DummyScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &DummyScheme{cfg: cfg, log: l, ongoing: true, required: make(map[cplcore.Action]bool)}
}

func (d *DummyScheme) implicit() bool { return d.cfg.IterationsToConverge > 1 }

func (d *DummyScheme) Initialize(startTime float64, startTimestep int) error {
	d.time = startTime
	d.timestep = startTimestep
	d.initialized = true
	if d.cfg.MaxTimesteps > 0 && d.timestep >= d.cfg.MaxTimesteps {
		d.ongoing = false
	}
	return nil
}

func (d *DummyScheme) InitializeData() error { return nil }

func (d *DummyScheme) AddComputedTime(dt float64) error {
	if !d.initialized {
		return cplcore.UsageError("cplscheme.DummyScheme.AddComputedTime", fmt.Errorf("scheme not initialized"))
	}
	return nil
}

func (d *DummyScheme) Advance() (float64, error) {
	if !d.initialized {
		return 0, cplcore.UsageError("cplscheme.DummyScheme.Advance", fmt.Errorf("scheme not initialized"))
	}
	if len(d.required) > 0 {
		return 0, cplcore.ProtocolError("cplscheme.DummyScheme.Advance", cplcore.ErrActionNotPerformed)
	}

	d.iteration++
	converged := !d.implicit() || d.iteration >= d.cfg.IterationsToConverge

	if converged {
		d.time += d.cfg.TimestepLength
		d.timestep++
		d.iteration = 0
		d.complete = true
		if d.implicit() {
			d.required[cplcore.ActionWriteIterationCheckpoint] = true
		}
		if d.cfg.MaxTimesteps > 0 && d.timestep >= d.cfg.MaxTimesteps {
			d.ongoing = false
		}
	} else {
		d.complete = false
		d.required[cplcore.ActionReadIterationCheckpoint] = true
	}
	return d.cfg.TimestepLength, nil
}

func (d *DummyScheme) Finalize() error { return nil }

func (d *DummyScheme) IsCouplingOngoing() bool         { return d.ongoing }
func (d *DummyScheme) IsCouplingTimestepComplete() bool { return d.complete }
func (d *DummyScheme) IsActionRequired(a cplcore.Action) bool { return d.required[a] }

func (d *DummyScheme) PerformedAction(a cplcore.Action) error {
	if !d.required[a] {
		return cplcore.UsageError("cplscheme.DummyScheme.PerformedAction", cplcore.ErrUnknownAction)
	}
	delete(d.required, a)
	return nil
}

func (d *DummyScheme) HasDataBeenExchanged() bool           { return false }
func (d *DummyScheme) GetTime() float64                     { return d.time }
func (d *DummyScheme) GetTimesteps() int                    { return d.timestep }
func (d *DummyScheme) GetNextTimestepMaxLength() float64    { return d.cfg.TimestepLength }

var _ Scheme = (*DummyScheme)(nil)

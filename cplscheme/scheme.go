// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cplscheme implements the base coupling-scheme state machine and
// the four concrete schemes: SerialScheme (staggered), ParallelScheme
// (Jacobi-like), MultiScheme (controller + N participants), and
// CompositionalScheme (composes any of the above, or a DummyScheme, in
// registration order).
//
// BaseScheme is an explicit state machine with Initialize/Advance-style
// operations plus plain query methods, owning the time, iteration, and
// action bookkeeping every concrete scheme shares.
package cplscheme

import (
	"fmt"

	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
)

// Scheme is the solver-facing coupling scheme contract.
type Scheme interface {
	Initialize(startTime float64, startTimestep int) error
	InitializeData() error
	AddComputedTime(dt float64) error
	// Advance performs one coupling step (one full staggered/parallel/multi
	// exchange, or one composition round) and returns the maximum length of
	// the next solver step.
	Advance() (float64, error)
	Finalize() error

	IsCouplingOngoing() bool
	IsCouplingTimestepComplete() bool
	IsActionRequired(action cplcore.Action) bool
	PerformedAction(action cplcore.Action) error
	HasDataBeenExchanged() bool
	GetTime() float64
	GetTimesteps() int
	GetNextTimestepMaxLength() float64
}

// Config is the time/iteration bookkeeping configuration shared by every
// concrete scheme, minus the
// exchange list and convergence measures which each concrete scheme takes
// directly as typed collaborators rather than raw config.
type Config struct {
	// Implicit selects whether this scheme runs a within-step convergence
	// loop (serial-implicit/parallel-implicit/multi) or always completes
	// after a single iteration (serial-explicit/parallel-explicit).
	Implicit bool
	// MaxTime stops the run once GetTime() reaches it; <= 0 means unbounded.
	MaxTime float64
	// MaxTimesteps stops the run once GetTimesteps() reaches it; <= 0 means
	// unbounded.
	MaxTimesteps int
	// TimestepLength is the fixed step size this scheme proposes via
	// GetNextTimestepMaxLength; <= 0 means "let the solver decide".
	TimestepLength float64
	// MaxIterations caps the within-step iteration loop as a safety net
	// alongside the convergence measures; <= 0 means unbounded (the
	// measures alone decide).
	MaxIterations int

	// InitializeData requires ActionWriteInitialData from the designated
	// writer before InitializeData() exchanges the initial values.
	InitializeData bool
	// IsInitialDataWriter marks this scheme instance as the designated
	// initial-data writer.
	IsInitialDataWriter bool
	// ResetInitialDataWriter zeros the writer's values after the initial
	// exchange completes.
	ResetInitialDataWriter bool
}

// BaseScheme owns the time state, action set, and iteration counter shared
// by every concrete scheme. Concrete schemes embed a
// *BaseScheme and drive it from their own Advance implementations; it does
// not implement Scheme by itself since the data-exchange step is
// necessarily scheme-specific.
type BaseScheme struct {
	cfg Config
	log log.Logger

	initialized bool

	time         float64
	timestep     int
	computedTime float64
	iteration    int

	timestepComplete bool
	dataExchanged    bool
	ongoing          bool

	required map[cplcore.Action]bool
}

// NewBase constructs a BaseScheme from cfg.
func NewBase(cfg Config, l log.Logger) *BaseScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &BaseScheme{cfg: cfg, log: l, ongoing: true, required: make(map[cplcore.Action]bool)}
}

// Config returns the scheme's bookkeeping configuration.
func (b *BaseScheme) Config() Config { return b.cfg }

// MarkInitialized records that Initialize has run, seeding the starting
// time/timestep.
func (b *BaseScheme) MarkInitialized(startTime float64, startTimestep int) {
	b.time = startTime
	b.timestep = startTimestep
	b.initialized = true
}

// Initialized reports whether MarkInitialized has been called.
func (b *BaseScheme) Initialized() bool { return b.initialized }

// AddComputedTime accumulates solver-side progress within the current
// coupling step.
func (b *BaseScheme) AddComputedTime(dt float64) error {
	if !b.initialized {
		return cplcore.UsageError("cplscheme.AddComputedTime", fmt.Errorf("scheme not initialized"))
	}
	b.computedTime += dt
	return nil
}

// BeginIteration increments the iteration counter and clears the per-
// iteration exchange/complete flags; concrete schemes call this at the top
// of Advance.
func (b *BaseScheme) BeginIteration() {
	b.iteration++
	b.dataExchanged = false
	b.timestepComplete = false
}

// Iteration returns the 1-based iteration counter within the current step.
func (b *BaseScheme) Iteration() int { return b.iteration }

// MarkDataExchanged records that this iteration's data exchange completed.
func (b *BaseScheme) MarkDataExchanged() { b.dataExchanged = true }

// ReachedMaxIterations reports whether the configured iteration cap (if
// any) has been hit, as a safety net alongside the convergence measures.
func (b *BaseScheme) ReachedMaxIterations() bool {
	return b.cfg.MaxIterations > 0 && b.iteration >= b.cfg.MaxIterations
}

// CompleteTimestep folds the accumulated computed time into the time
// counter, advances the timestep counter, resets the iteration counter, and
// updates the ongoing flag against MaxTime/MaxTimesteps.
func (b *BaseScheme) CompleteTimestep() {
	b.time += b.computedTime
	b.computedTime = 0
	b.timestep++
	b.iteration = 0
	b.timestepComplete = true
	if b.cfg.MaxTimesteps > 0 && b.timestep >= b.cfg.MaxTimesteps {
		b.ongoing = false
	}
	if b.cfg.MaxTime > 0 && b.time >= b.cfg.MaxTime-1e-12 {
		b.ongoing = false
	}
}

// RequireAction declares that the solver must perform action a before the
// next Advance returns control cleanly.
func (b *BaseScheme) RequireAction(a cplcore.Action) { b.required[a] = true }

// CheckActionsFulfilled returns a ProtocolError wrapping
// ErrActionNotPerformed if any previously required action remains
// unacknowledged; concrete schemes call this at the top of Advance.
func (b *BaseScheme) CheckActionsFulfilled() error {
	if len(b.required) > 0 {
		return cplcore.ProtocolError("cplscheme.Advance", cplcore.ErrActionNotPerformed)
	}
	return nil
}

// IsActionRequired reports whether a is currently required.
func (b *BaseScheme) IsActionRequired(a cplcore.Action) bool { return b.required[a] }

// PerformedAction acknowledges a required action, or returns a UsageError
// wrapping ErrUnknownAction if a was not required.
func (b *BaseScheme) PerformedAction(a cplcore.Action) error {
	if !b.required[a] {
		return cplcore.UsageError("cplscheme.PerformedAction", cplcore.ErrUnknownAction)
	}
	delete(b.required, a)
	return nil
}

// IsCouplingOngoing reports whether the run has not yet reached its
// configured time/step limit.
func (b *BaseScheme) IsCouplingOngoing() bool { return b.ongoing }

// SetOngoing overrides the ongoing flag directly, used by CompositionalScheme
// which derives its own ongoing state from its sub-schemes rather than from
// MaxTime/MaxTimesteps.
func (b *BaseScheme) SetOngoing(v bool) { b.ongoing = v }

// IsCouplingTimestepComplete reports whether the current step finished on
// the most recent Advance call.
func (b *BaseScheme) IsCouplingTimestepComplete() bool { return b.timestepComplete }

// HasDataBeenExchanged reports whether the current iteration performed its
// data exchange.
func (b *BaseScheme) HasDataBeenExchanged() bool { return b.dataExchanged }

// GetTime returns the current coupled simulation time.
func (b *BaseScheme) GetTime() float64 { return b.time }

// GetTimesteps returns the number of completed time steps.
func (b *BaseScheme) GetTimesteps() int { return b.timestep }

// GetNextTimestepMaxLength returns the configured fixed step size, or the
// remaining time to MaxTime if no fixed step size is configured.
func (b *BaseScheme) GetNextTimestepMaxLength() float64 {
	if b.cfg.TimestepLength > 0 {
		return b.cfg.TimestepLength
	}
	if b.cfg.MaxTime > 0 {
		remaining := b.cfg.MaxTime - b.time
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return 0
}

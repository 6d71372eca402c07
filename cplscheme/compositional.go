// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme

import (
	"fmt"
	"math"

	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
)

// CompositionalScheme composes a list of sub-schemes executed in
// registration order. Its own time step is the minimum next-
// step length of any not-yet-completed-this-round sub-scheme. Each outer
// Advance call advances every sub-scheme that has not yet completed the
// current round once; sub-schemes that already completed are skipped. Once
// every sub-scheme has completed the round, the composition itself
// completes it and a new round begins on the next Advance call.
type CompositionalScheme struct {
	subs      []Scheme
	roundDone []bool
	log       log.Logger

	initialized bool
	timestep    int
	complete    bool
}

// NewCompositional composes subs in registration order.
func NewCompositional(subs []Scheme, l log.Logger) *CompositionalScheme {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &CompositionalScheme{subs: append([]Scheme(nil), subs...), roundDone: make([]bool, len(subs)), log: l}
}

func (c *CompositionalScheme) Initialize(startTime float64, startTimestep int) error {
	for _, s := range c.subs {
		if err := s.Initialize(startTime, startTimestep); err != nil {
			return err
		}
	}
	c.timestep = startTimestep
	c.initialized = true
	return nil
}

func (c *CompositionalScheme) InitializeData() error {
	for _, s := range c.subs {
		if err := s.InitializeData(); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompositionalScheme) AddComputedTime(dt float64) error {
	for _, s := range c.subs {
		if err := s.AddComputedTime(dt); err != nil {
			return err
		}
	}
	return nil
}

// Advance runs one outer round: every sub-scheme not yet done this round
// advances once. When every sub-scheme finishes this call, the round
// completes and roundDone resets for the next one.
func (c *CompositionalScheme) Advance() (float64, error) {
	if !c.initialized {
		return 0, cplcore.UsageError("cplscheme.CompositionalScheme.Advance", fmt.Errorf("scheme not initialized"))
	}

	minDt := math.Inf(1)
	allDone := true
	for i, s := range c.subs {
		if c.roundDone[i] {
			continue
		}
		dt, err := s.Advance()
		if err != nil {
			return 0, err
		}
		if dt < minDt {
			minDt = dt
		}
		if s.IsCouplingTimestepComplete() {
			c.roundDone[i] = true
		} else {
			allDone = false
		}
	}

	c.complete = allDone
	if allDone {
		c.timestep++
		for i := range c.roundDone {
			c.roundDone[i] = false
		}
	}
	if math.IsInf(minDt, 1) {
		minDt = 0
	}
	return minDt, nil
}

func (c *CompositionalScheme) Finalize() error {
	var firstErr error
	for _, s := range c.subs {
		if err := s.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsCouplingOngoing reports true while at least one sub-scheme is still
// ongoing; the composition terminates only once every sub-scheme has
// terminated.
func (c *CompositionalScheme) IsCouplingOngoing() bool {
	for _, s := range c.subs {
		if s.IsCouplingOngoing() {
			return true
		}
	}
	return false
}

func (c *CompositionalScheme) IsCouplingTimestepComplete() bool { return c.complete }

func (c *CompositionalScheme) IsActionRequired(a cplcore.Action) bool {
	for _, s := range c.subs {
		if s.IsActionRequired(a) {
			return true
		}
	}
	return false
}

// PerformedAction acknowledges a on every sub-scheme that currently
// requires it.
func (c *CompositionalScheme) PerformedAction(a cplcore.Action) error {
	acknowledgedAny := false
	for _, s := range c.subs {
		if !s.IsActionRequired(a) {
			continue
		}
		if err := s.PerformedAction(a); err != nil {
			return err
		}
		acknowledgedAny = true
	}
	if !acknowledgedAny {
		return cplcore.UsageError("cplscheme.CompositionalScheme.PerformedAction", cplcore.ErrUnknownAction)
	}
	return nil
}

func (c *CompositionalScheme) HasDataBeenExchanged() bool {
	for _, s := range c.subs {
		if s.HasDataBeenExchanged() {
			return true
		}
	}
	return false
}

// GetTime returns the furthest-advanced sub-scheme's time.
func (c *CompositionalScheme) GetTime() float64 {
	max := 0.0
	for i, s := range c.subs {
		t := s.GetTime()
		if i == 0 || t > max {
			max = t
		}
	}
	return max
}

func (c *CompositionalScheme) GetTimesteps() int { return c.timestep }

// GetNextTimestepMaxLength returns the minimum next-step length of any
// sub-scheme not yet done this round.
func (c *CompositionalScheme) GetNextTimestepMaxLength() float64 {
	min := math.Inf(1)
	for i, s := range c.subs {
		if c.roundDone[i] {
			continue
		}
		if l := s.GetNextTimestepMaxLength(); l < min {
			min = l
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

var _ Scheme = (*CompositionalScheme)(nil)

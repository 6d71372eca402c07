// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplscheme_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/coupling"
	"github.com/precice-go/cplcore/cplscheme"
)

// TestSingleExplicitComposition composes one explicit sub-scheme with 1
// iteration and 10 max-steps alone: 10 advance calls terminate it, the
// final step count is 10, and no checkpoint action is ever required.
func TestSingleExplicitComposition(t *testing.T) {
	explicit := cplscheme.NewDummy(cplscheme.DummyConfig{IterationsToConverge: 1, TimestepLength: 1, MaxTimesteps: 10}, nil)
	comp := cplscheme.NewCompositional([]cplscheme.Scheme{explicit}, nil)
	require.NoError(t, comp.Initialize(0, 0))

	calls := 0
	for comp.IsCouplingOngoing() {
		_, err := comp.Advance()
		require.NoError(t, err)
		require.False(t, comp.IsActionRequired(cplcore.ActionWriteIterationCheckpoint))
		require.False(t, comp.IsActionRequired(cplcore.ActionReadIterationCheckpoint))
		calls++
		require.LessOrEqual(t, calls, 10)
	}
	require.Equal(t, 10, calls)
	require.Equal(t, 10, comp.GetTimesteps())
}

// TestTwoImplicitSchemesComposition composes two implicit sub-schemes
// each converging after 2 iterations, for 10 steps: 20 advance calls
// total; on odd-numbered calls both require read-iteration-checkpoint, on
// even-numbered calls both require write-iteration-checkpoint.
func TestTwoImplicitSchemesComposition(t *testing.T) {
	a := cplscheme.NewDummy(cplscheme.DummyConfig{IterationsToConverge: 2, TimestepLength: 1, MaxTimesteps: 10}, nil)
	b := cplscheme.NewDummy(cplscheme.DummyConfig{IterationsToConverge: 2, TimestepLength: 1, MaxTimesteps: 10}, nil)
	comp := cplscheme.NewCompositional([]cplscheme.Scheme{a, b}, nil)
	require.NoError(t, comp.Initialize(0, 0))

	for call := 1; call <= 20; call++ {
		_, err := comp.Advance()
		require.NoError(t, err)
		if call%2 == 1 {
			require.True(t, comp.IsActionRequired(cplcore.ActionReadIterationCheckpoint), "call %d", call)
			require.NoError(t, comp.PerformedAction(cplcore.ActionReadIterationCheckpoint))
		} else {
			require.True(t, comp.IsActionRequired(cplcore.ActionWriteIterationCheckpoint), "call %d", call)
			require.NoError(t, comp.PerformedAction(cplcore.ActionWriteIterationCheckpoint))
		}
	}
	require.Equal(t, 10, a.GetTimesteps())
	require.Equal(t, 10, b.GetTimesteps())
	require.False(t, comp.IsCouplingOngoing())
}

// TestThreeSolverPairwiseComposition connects participants P0, P1, P2
// pairwise, each advancing 10 coupling steps of length 0.1. P1 composes
// its two serial schemes; after termination all three report step count 10
// and coupling no longer ongoing.
func TestThreeSolverPairwiseComposition(t *testing.T) {
	ch01A, ch01B := wireM2N(t, "three-p0-p1")
	ch12A, ch12B := wireM2N(t, "three-p1-p2")

	cfg := cplscheme.Config{Implicit: false, TimestepLength: 0.1, MaxTimesteps: 10}

	p0 := cplscheme.NewSerial(cfg, cplscheme.RoleFirst, ch01A,
		[]*coupling.Data{mustData(t, "d01", coupling.Sent, []float64{1})},
		[]*coupling.Data{mustData(t, "d10", coupling.Received, []float64{0})}, nil, nil, nil)

	p1sub1 := cplscheme.NewSerial(cfg, cplscheme.RoleSecond, ch01B,
		[]*coupling.Data{mustData(t, "d10", coupling.Sent, []float64{2})},
		[]*coupling.Data{mustData(t, "d01", coupling.Received, []float64{0})}, nil, nil, nil)
	p1sub2 := cplscheme.NewSerial(cfg, cplscheme.RoleFirst, ch12A,
		[]*coupling.Data{mustData(t, "d12", coupling.Sent, []float64{3})},
		[]*coupling.Data{mustData(t, "d21", coupling.Received, []float64{0})}, nil, nil, nil)
	p1 := cplscheme.NewCompositional([]cplscheme.Scheme{p1sub1, p1sub2}, nil)

	p2 := cplscheme.NewSerial(cfg, cplscheme.RoleSecond, ch12B,
		[]*coupling.Data{mustData(t, "d21", coupling.Sent, []float64{4})},
		[]*coupling.Data{mustData(t, "d12", coupling.Received, []float64{0})}, nil, nil, nil)

	participants := []cplscheme.Scheme{p0, p1, p2}
	for _, p := range participants {
		require.NoError(t, p.Initialize(0, 0))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(participants))
	wg.Add(len(participants))
	for i, p := range participants {
		i, p := i, p
		go func() {
			defer wg.Done()
			for p.IsCouplingOngoing() {
				if err := p.AddComputedTime(0.1); err != nil {
					errs[i] = err
					return
				}
				if _, err := p.Advance(); err != nil {
					errs[i] = err
					return
				}
			}
			errs[i] = p.Finalize()
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoErrorf(t, err, "participant %d", i)
	}

	for i, p := range participants {
		require.Equalf(t, 10, p.GetTimesteps(), "participant %d", i)
		require.Falsef(t, p.IsCouplingOngoing(), "participant %d", i)
	}
	require.InDelta(t, 1.0, p0.GetTime(), 1e-12)
	require.InDelta(t, 1.0, p2.GetTime(), 1e-12)
}

// TestExplicitPlusTripleIterationImplicit composes an explicit sub-scheme
// with an implicit one converging after 3 iterations: 30 advance calls;
// every third call the implicit sub-scheme requires
// write-iteration-checkpoint and the explicit sub-scheme advances by one
// step; the explicit scheme ends at step count 10.
func TestExplicitPlusTripleIterationImplicit(t *testing.T) {
	explicit := cplscheme.NewDummy(cplscheme.DummyConfig{IterationsToConverge: 1, TimestepLength: 1, MaxTimesteps: 10}, nil)
	implicit := cplscheme.NewDummy(cplscheme.DummyConfig{IterationsToConverge: 3, TimestepLength: 1, MaxTimesteps: 10}, nil)
	comp := cplscheme.NewCompositional([]cplscheme.Scheme{explicit, implicit}, nil)
	require.NoError(t, comp.Initialize(0, 0))

	for call := 1; call <= 30; call++ {
		_, err := comp.Advance()
		require.NoError(t, err)
		if call%3 == 0 {
			require.True(t, comp.IsActionRequired(cplcore.ActionWriteIterationCheckpoint), "call %d", call)
			require.NoError(t, comp.PerformedAction(cplcore.ActionWriteIterationCheckpoint))
		} else {
			require.True(t, comp.IsActionRequired(cplcore.ActionReadIterationCheckpoint), "call %d", call)
			require.NoError(t, comp.PerformedAction(cplcore.ActionReadIterationCheckpoint))
		}
	}
	require.Equal(t, 10, explicit.GetTimesteps())
	require.Equal(t, 10, implicit.GetTimesteps())
}

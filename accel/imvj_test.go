// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package accel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore/config"
	"github.com/precice-go/cplcore/coordinator"
)

func newRestartState(t *testing.T, restart config.RestartType, eps float64) *imvjState {
	t.Helper()
	cfg := &config.AccelerationConfig{
		Type:              config.AccelerationIQNIMVJ,
		InitialRelaxation: 0.1,
		MaxUsedIterations: 50,
		Filter:            config.NoFilter,
		RestartType:       restart,
		ChunkSize:         8,
		SVDTruncationEps:  eps,
	}
	return newIMVJState(cfg, 4, coordinator.NewLocal(coordinator.Deps{}))
}

func twoPairs(t *testing.T, s *imvjState) (v2 *mat.Dense) {
	t.Helper()
	v1 := mat.NewDense(4, 2, []float64{1, 0, 0, 1, 1, 1, 0, 2})
	w1 := mat.NewDense(4, 2, []float64{2, 1, 1, 0, 0, 1, 3, 1})
	s.addFactorPair(v1, w1)

	v2 = mat.NewDense(4, 2, []float64{1, 2, 2, 0, 0, 1, 1, 1})
	w2 := mat.NewDense(4, 2, []float64{0, 1, 1, 1, 2, 0, 1, 2})
	s.addFactorPair(v2, w2)
	require.Len(t, s.chunk, 2)
	return v2
}

// TestRestartZeroDiscardsJacobian checks that an RS-ZERO restart leaves
// the accumulated Jacobian identically zero.
func TestRestartZeroDiscardsJacobian(t *testing.T) {
	s := newRestartState(t, config.RestartZero, 0)
	twoPairs(t, s)
	s.doRestart()
	require.Empty(t, s.chunk)

	out, err := s.evaluateChunk([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0, 0}, out)
}

// TestRestartSlidePreservesProductOnRetainedSpan checks that an RS-SLIDE
// restart, folding the oldest pair into the others, leaves J*v unchanged
// for vectors the retained pairs' least-squares models resolve, i.e. v in
// the column span of the surviving V_q.
func TestRestartSlidePreservesProductOnRetainedSpan(t *testing.T) {
	s := newRestartState(t, config.RestartSlide, 0)
	v2 := twoPairs(t, s)

	// v = V_2 * (1, -2): inside the retained pair's span.
	v := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v[i] = v2.At(i, 0) - 2*v2.At(i, 1)
	}

	before, err := s.evaluateChunk(v)
	require.NoError(t, err)

	s.doRestart()
	require.Len(t, s.chunk, 1)

	after, err := s.evaluateChunk(v)
	require.NoError(t, err)
	require.InDeltaSlice(t, before, after, 1e-10)
}

// TestRestartSVDPreservesProductWithoutTruncation checks an RS-SVD restart
// with svdTruncationEps = 0: no singular value is dropped, so the single
// compressed pair reproduces J*v to numerical precision.
func TestRestartSVDPreservesProductWithoutTruncation(t *testing.T) {
	s := newRestartState(t, config.RestartSVD, 0)
	twoPairs(t, s)

	v := []float64{1, -1, 2, 0.5}
	before, err := s.evaluateChunk(v)
	require.NoError(t, err)

	s.doRestart()
	require.Len(t, s.chunk, 1)

	after, err := s.evaluateChunk(v)
	require.NoError(t, err)
	require.InDeltaSlice(t, before, after, 1e-8)
}

// TestRestartLSRebuildsFromRetainedSteps checks RS-LS produces exactly one
// replacement pair built from the retained raw history.
func TestRestartLSRebuildsFromRetainedSteps(t *testing.T) {
	cfg := &config.AccelerationConfig{
		Type:              config.AccelerationIQNIMVJ,
		InitialRelaxation: 0.1,
		MaxUsedIterations: 50,
		Filter:            config.NoFilter,
		RestartType:       config.RestartLS,
		ChunkSize:         8,
		RSLSReusedTimesteps: 2,
	}
	s := newIMVJState(cfg, 4, coordinator.NewLocal(coordinator.Deps{}))
	twoPairs(t, s)
	s.lsHistory.Prepend([]float64{1, 0, 0, 0}, []float64{0, 1, 0, 0})
	s.lsHistory.CompleteStep()

	s.doRestart()
	require.Len(t, s.chunk, 1)
}

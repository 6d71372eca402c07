// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package distmat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore/comm"
	"github.com/precice-go/cplcore/coordinator"
	"github.com/precice-go/cplcore/ring"
)

func TestMultiplyToReplicatedLocalGroup(t *testing.T) {
	coord := coordinator.NewLocal(coordinator.Deps{})
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewVecDense(2, []float64{1, 1})

	out, err := MultiplyToReplicated(coord, a, b)
	require.NoError(t, err)
	rows, cols := out.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 1, cols)
	require.InDelta(t, 3.0, out.At(0, 0), 1e-12)
	require.InDelta(t, 7.0, out.At(1, 0), 1e-12)
}

func TestLocalContribution(t *testing.T) {
	w := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	out := LocalContribution(w, []float64{5, 6})
	require.Equal(t, []float64{5, 6}, out)
}

// TestMultiplyRingPipelinedThreeRanks rotates per-rank contributions around
// a three-rank cyclic ring: after size-1 hops every rank must hold the sum
// of all contributions.
func TestMultiplyRingPipelinedThreeRanks(t *testing.T) {
	const size = 3
	rv := comm.NewInMemoryRendezvous()
	rings := make([]ring.Ring, size)
	connectErrs := make([]error, size)
	var wg sync.WaitGroup
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			rings[rank], connectErrs[rank] = ring.Connect(rv, rank, size)
		}()
	}
	wg.Wait()
	for rank, err := range connectErrs {
		require.NoErrorf(t, err, "rank %d", rank)
	}
	defer func() {
		for _, r := range rings {
			r.Close()
		}
	}()

	contributions := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	results := make([][]float64, size)
	errs := make([]error, size)
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			results[rank], errs[rank] = MultiplyRingPipelined(rings[rank], size, contributions[rank])
		}()
	}
	wg.Wait()
	for rank := 0; rank < size; rank++ {
		require.NoErrorf(t, errs[rank], "rank %d", rank)
		require.InDeltaSlicef(t, []float64{9, 12}, results[rank], 1e-12, "rank %d", rank)
	}
}

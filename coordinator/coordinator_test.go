// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/precice-go/cplcore/comm"
	"github.com/precice-go/cplcore/coordinator"
)

// newGroup wires a master plus n-1 slaves over in-process direct channels,
// the way a real deployment would wire one CommChannel per rank pair over a
// shared communicator.
func newGroup(t *testing.T, size int) []coordinator.Coordinator {
	t.Helper()
	reg := comm.NewRegistry()
	coords := make([]coordinator.Coordinator, size)

	if size == 1 {
		c, err := coordinator.NewMaster(1, nil, coordinator.Deps{})
		require.NoError(t, err)
		coords[0] = c
		return coords
	}

	toSlaves := make([]comm.Channel, size-1)
	for slave := 1; slave < size; slave++ {
		var masterSide, slaveSide comm.Channel
		var errM, errS error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			masterSide, errM = reg.Accept("master", "slave", slave)
		}()
		go func() {
			defer wg.Done()
			slaveSide, errS = reg.Request("slave", "master", slave)
		}()
		wg.Wait()
		require.NoError(t, errM)
		require.NoError(t, errS)
		toSlaves[slave-1] = masterSide
		sc, err := coordinator.NewSlave(slave, size, slaveSide, coordinator.Deps{})
		require.NoError(t, err)
		coords[slave] = sc
	}
	mc, err := coordinator.NewMaster(size, toSlaves, coordinator.Deps{})
	require.NoError(t, err)
	coords[0] = mc
	return coords
}

func runOnAll(t *testing.T, coords []coordinator.Coordinator, fn func(c coordinator.Coordinator) error) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make([]error, len(coords))
	wg.Add(len(coords))
	for i, c := range coords {
		i, c := i, c
		go func() {
			defer wg.Done()
			errs[i] = fn(c)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestLocalCoordinatorIsNonDistributed(t *testing.T) {
	require := require.New(t)
	coords := newGroup(t, 1)
	require.True(coords[0].IsMaster())
	require.Equal(1, coords[0].Size())

	v, err := coords[0].BroadcastInt(7)
	require.NoError(err)
	require.Equal(7, v)

	offsets, total, err := coords[0].GatherOffsets(5)
	require.NoError(err)
	require.Equal([]int{0}, offsets)
	require.Equal(5, total)
}

func TestBroadcastInt(t *testing.T) {
	coords := newGroup(t, 3)
	got := make([]int, 3)
	runOnAll(t, coords, func(c coordinator.Coordinator) error {
		v, err := c.BroadcastInt(99)
		got[c.Rank()] = v
		return err
	})
	for i, v := range got {
		require.Equalf(t, 99, v, "rank %d", i)
	}
}

func TestAllReduceSumFloat64(t *testing.T) {
	coords := newGroup(t, 4)
	got := make([]float64, 4)
	runOnAll(t, coords, func(c coordinator.Coordinator) error {
		v, err := c.AllReduceSumFloat64(float64(c.Rank()) + 1)
		got[c.Rank()] = v
		return err
	})
	// ranks contribute 1, 2, 3, 4
	for i, v := range got {
		require.Equalf(t, 10.0, v, "rank %d", i)
	}
}

func TestAllReduceSumFloat64s(t *testing.T) {
	coords := newGroup(t, 2)
	got := make([][]float64, 2)
	runOnAll(t, coords, func(c coordinator.Coordinator) error {
		local := []float64{float64(c.Rank()), float64(c.Rank()) * 2}
		v, err := c.AllReduceSumFloat64s(local)
		got[c.Rank()] = v
		return err
	})
	want := []float64{1, 2}
	require.Equal(t, want, got[0])
	require.Equal(t, want, got[1])
}

func TestGatherOffsets(t *testing.T) {
	coords := newGroup(t, 3)
	localSizes := []int{2, 3, 5}
	gotOffsets := make([][]int, 3)
	gotTotal := make([]int, 3)
	runOnAll(t, coords, func(c coordinator.Coordinator) error {
		offsets, total, err := c.GatherOffsets(localSizes[c.Rank()])
		gotOffsets[c.Rank()] = offsets
		gotTotal[c.Rank()] = total
		return err
	})
	wantOffsets := []int{0, 2, 5}
	for i := range gotOffsets {
		require.Equalf(t, wantOffsets, gotOffsets[i], "rank %d", i)
		require.Equalf(t, 10, gotTotal[i], "rank %d", i)
	}
}

func TestReduceSumIntMasterOnly(t *testing.T) {
	coords := newGroup(t, 3)
	got := make([]int, 3)
	runOnAll(t, coords, func(c coordinator.Coordinator) error {
		v, err := c.ReduceSumInt(c.Rank() + 1)
		got[c.Rank()] = v
		return err
	})
	require.Equal(t, 6, got[0])
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package m2n_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/precice-go/cplcore/comm"
	"github.com/precice-go/cplcore/coordinator"
	"github.com/precice-go/cplcore/m2n"
)

// newGroup wires a coordinator.Coordinator group of the given size over
// in-process direct channels, mirroring coordinator's own test helper.
func newGroup(t *testing.T, size int) []coordinator.Coordinator {
	t.Helper()
	coords := make([]coordinator.Coordinator, size)
	if size == 1 {
		c, err := coordinator.NewMaster(1, nil, coordinator.Deps{})
		require.NoError(t, err)
		coords[0] = c
		return coords
	}

	reg := comm.NewRegistry()
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

func TestGatherScatterSingleRank(t *testing.T) {
	require := require.New(t)
	reg := comm.NewRegistry()

	coordA := newGroup(t, 1)[0]
	coordB := newGroup(t, 1)[0]

	chA, err := m2n.New(coordA, m2n.GatherScatter, nil, "fluid-structure")
	require.NoError(err)
	chB, err := m2n.New(coordB, m2n.GatherScatter, nil, "fluid-structure")
	require.NoError(err)
	require.Equal(0, chA.PeerRanks().Len())
	require.Equal(0, chB.PeerRanks().Len())

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		errA = chA.AcceptMasterConnection(reg, "A", "B")
	}()
	go func() {
		defer wg.Done()
		errB = chB.RequestMasterConnection(reg, "B", "A")
	}()
	wg.Wait()
	require.NoError(errA)
	require.NoError(errB)
	require.True(chA.IsConnected())
	require.True(chB.IsConnected())

	want := []float64{1, 2, 3}
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(chA.Send(want, "interface", 1))
	}()
	got, err := chB.Receive("interface", 1, 3)
	require.NoError(err)
	require.Equal(want, got)
	wg.Wait()

	require.NoError(chA.Close())
	require.NoError(chB.Close())
}

func TestGatherScatterMultiRank(t *testing.T) {
	require := require.New(t)
	reg := comm.NewRegistry()

	coordsA := newGroup(t, 2)
	coordB := newGroup(t, 1)[0]

	chAMaster, err := m2n.New(coordsA[0], m2n.GatherScatter, nil, "multi")
	require.NoError(err)
	chASlave, err := m2n.New(coordsA[1], m2n.GatherScatter, nil, "multi")
	require.NoError(err)
	chB, err := m2n.New(coordB, m2n.GatherScatter, nil, "multi")
	require.NoError(err)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		errA = chAMaster.AcceptMasterConnection(reg, "A", "B")
	}()
	go func() {
		defer wg.Done()
		errB = chB.RequestMasterConnection(reg, "B", "A")
	}()
	wg.Wait()
	require.NoError(errA)
	require.NoError(errB)

	localA0 := []float64{1, 2}
	localA1 := []float64{3, 4, 5}

	wg.Add(2)
	var sendErr0, sendErr1 error
	go func() {
		defer wg.Done()
		sendErr0 = chAMaster.Send(localA0, "interface", 1)
	}()
	go func() {
		defer wg.Done()
		sendErr1 = chASlave.Send(localA1, "interface", 1)
	}()
	got, err := chB.Receive("interface", 1, 5)
	require.NoError(err)
	require.Equal([]float64{1, 2, 3, 4, 5}, got)
	wg.Wait()
	require.NoError(sendErr0)
	require.NoError(sendErr1)
}

// TestGatherScatterMultiRankReceive is the scatter counterpart: one side's
// master receives the concatenated vector and every rank of the group gets
// its own slice back.
func TestGatherScatterMultiRankReceive(t *testing.T) {
	require := require.New(t)
	reg := comm.NewRegistry()

	coordsA := newGroup(t, 2)
	coordB := newGroup(t, 1)[0]

	chAMaster, err := m2n.New(coordsA[0], m2n.GatherScatter, nil, "scatter")
	require.NoError(err)
	chASlave, err := m2n.New(coordsA[1], m2n.GatherScatter, nil, "scatter")
	require.NoError(err)
	chB, err := m2n.New(coordB, m2n.GatherScatter, nil, "scatter")
	require.NoError(err)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		errA = chAMaster.AcceptMasterConnection(reg, "A", "B")
	}()
	go func() {
		defer wg.Done()
		errB = chB.RequestMasterConnection(reg, "B", "A")
	}()
	wg.Wait()
	require.NoError(errA)
	require.NoError(errB)

	var got0, got1 []float64
	var recvErr0, recvErr1 error
	wg.Add(3)
	go func() {
		defer wg.Done()
		require.NoError(chB.Send([]float64{1, 2, 3, 4, 5}, "interface", 1))
	}()
	go func() {
		defer wg.Done()
		got0, recvErr0 = chAMaster.Receive("interface", 1, 2)
	}()
	go func() {
		defer wg.Done()
		got1, recvErr1 = chASlave.Receive("interface", 1, 3)
	}()
	wg.Wait()
	require.NoError(recvErr0)
	require.NoError(recvErr1)
	require.Equal([]float64{1, 2}, got0)
	require.Equal([]float64{3, 4, 5}, got1)
}

// TestGatherScatterEmptyLocalBlock: a rank owning zero vertices must not
// break either collective direction.
func TestGatherScatterEmptyLocalBlock(t *testing.T) {
	require := require.New(t)
	reg := comm.NewRegistry()

	coordsA := newGroup(t, 2)
	coordB := newGroup(t, 1)[0]

	chAMaster, err := m2n.New(coordsA[0], m2n.GatherScatter, nil, "empty-block")
	require.NoError(err)
	chASlave, err := m2n.New(coordsA[1], m2n.GatherScatter, nil, "empty-block")
	require.NoError(err)
	chB, err := m2n.New(coordB, m2n.GatherScatter, nil, "empty-block")
	require.NoError(err)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		errA = chAMaster.AcceptMasterConnection(reg, "A", "B")
	}()
	go func() {
		defer wg.Done()
		errB = chB.RequestMasterConnection(reg, "B", "A")
	}()
	wg.Wait()
	require.NoError(errA)
	require.NoError(errB)

	// The slave owns no vertices: it still takes part in every collective.
	wg.Add(2)
	var sendErr0, sendErr1 error
	go func() {
		defer wg.Done()
		sendErr0 = chAMaster.Send([]float64{6, 7}, "interface", 1)
	}()
	go func() {
		defer wg.Done()
		sendErr1 = chASlave.Send(nil, "interface", 1)
	}()
	got, err := chB.Receive("interface", 1, 2)
	require.NoError(err)
	require.Equal([]float64{6, 7}, got)
	wg.Wait()
	require.NoError(sendErr0)
	require.NoError(sendErr1)

	var got0, got1 []float64
	var recvErr0, recvErr1 error
	wg.Add(3)
	go func() {
		defer wg.Done()
		require.NoError(chB.Send([]float64{9, 9}, "interface", 1))
	}()
	go func() {
		defer wg.Done()
		got0, recvErr0 = chAMaster.Receive("interface", 1, 2)
	}()
	go func() {
		defer wg.Done()
		got1, recvErr1 = chASlave.Receive("interface", 1, 0)
	}()
	wg.Wait()
	require.NoError(recvErr0)
	require.NoError(recvErr1)
	require.Equal([]float64{9, 9}, got0)
	require.Empty(got1)
}

func TestPointToPoint(t *testing.T) {
	require := require.New(t)
	rv := comm.NewInMemoryRendezvous()

	coordA := newGroup(t, 1)[0]
	coordB := newGroup(t, 1)[0]

	chA, err := m2n.New(coordA, m2n.PointToPoint, nil, "p2p")
	require.NoError(err)
	chB, err := m2n.New(coordB, m2n.PointToPoint, nil, "p2p")
	require.NoError(err)

	var wg sync.WaitGroup
	wg.Add(2)
	var errA, errB error
	go func() {
		defer wg.Done()
		errA = chA.AcceptSlavesConnection(rv)
	}()
	go func() {
		defer wg.Done()
		errB = chB.RequestSlavesConnection(rv)
	}()
	wg.Wait()
	require.NoError(errA)
	require.NoError(errB)
	require.True(chA.PeerRanks().Contains(0))
	require.True(chB.PeerRanks().Contains(0))

	want := []float64{9, 8, 7}
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(chA.Send(want, "interface", 1))
	}()
	got, err := chB.Receive("interface", 1, 3)
	require.NoError(err)
	require.Equal(want, got)
	wg.Wait()
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coordinator implements the master-slave coordinator: a
// process-local service holding a CommChannel to every other rank in the
// local participant group, used for broadcast, reduce, and allreduce
// collectives plus per-mesh offset maps.
//
// There is no process-wide instance: the facade constructs exactly one
// Coordinator per process and passes it into every scheme and
// post-processing instance at construction time.
package coordinator

import (
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/comm"
)

// Coordinator is the master-slave coordinator contract
// Every method is collective and blocking across the local group.
type Coordinator interface {
	// Self returns this rank's identity within its group.
	Self() ids.NodeID
	Rank() int
	Size() int
	IsMaster() bool

	// BroadcastInt sends v from the master to every slave; every rank
	// (including the master) returns the broadcast value.
	BroadcastInt(v int) (int, error)
	BroadcastFloat64(v float64) (float64, error)
	BroadcastBool(v bool) (bool, error)

	// ReduceSumInt sums v across the group into the master; the result is
	// meaningful only on the master.
	ReduceSumInt(v int) (int, error)
	ReduceSumFloat64(v float64) (float64, error)
	ReduceSumFloat64s(v []float64) ([]float64, error)

	// AllReduceSumInt sums v across the group and returns the sum on every
	// rank.
	AllReduceSumInt(v int) (int, error)
	AllReduceSumFloat64(v float64) (float64, error)
	AllReduceSumFloat64s(v []float64) ([]float64, error)

	// GatherOffsets gathers each rank's localSize into the master, computes
	// the prefix-sum offset for every rank, and broadcasts the full offset
	// table back out, so every rank knows the global index range its local
	// vertices occupy.
	GatherOffsets(localSize int) (offsets []int, total int, err error)

	Close() error
}

// Deps are the external collaborators a Coordinator needs.
type Deps struct {
	Log log.Logger
}

// localCoordinator implements Coordinator for a group of size 1: every
// collective is a local no-op, so a single-rank group behaves as a
// non-distributed coupling.
type localCoordinator struct {
	self ids.NodeID
	log  log.Logger
}

// NewLocal returns a Coordinator for a participant group consisting of a
// single rank (the master, with no slaves).
func NewLocal(deps Deps) Coordinator {
	l := deps.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &localCoordinator{self: ids.GenerateTestNodeID(), log: l}
}

func (c *localCoordinator) Self() ids.NodeID { return c.self }
func (c *localCoordinator) Rank() int        { return 0 }
func (c *localCoordinator) Size() int        { return 1 }
func (c *localCoordinator) IsMaster() bool   { return true }

func (c *localCoordinator) BroadcastInt(v int) (int, error)         { return v, nil }
func (c *localCoordinator) BroadcastFloat64(v float64) (float64, error) { return v, nil }
func (c *localCoordinator) BroadcastBool(v bool) (bool, error)      { return v, nil }
func (c *localCoordinator) ReduceSumInt(v int) (int, error)         { return v, nil }
func (c *localCoordinator) ReduceSumFloat64(v float64) (float64, error) { return v, nil }
func (c *localCoordinator) ReduceSumFloat64s(v []float64) ([]float64, error) {
	out := make([]float64, len(v))
	copy(out, v)
	return out, nil
}
func (c *localCoordinator) AllReduceSumInt(v int) (int, error)         { return v, nil }
func (c *localCoordinator) AllReduceSumFloat64(v float64) (float64, error) { return v, nil }
func (c *localCoordinator) AllReduceSumFloat64s(v []float64) ([]float64, error) {
	out := make([]float64, len(v))
	copy(out, v)
	return out, nil
}

func (c *localCoordinator) GatherOffsets(localSize int) ([]int, int, error) {
	return []int{0}, localSize, nil
}

func (c *localCoordinator) Close() error { return nil }

// groupCoordinator implements Coordinator over a CommChannel per slave
// (master side) or one CommChannel to the master (slave side), injected at
// construction rather than reached for as process-wide state.
type groupCoordinator struct {
	self     ids.NodeID
	rank     int
	size     int
	isMaster bool
	// toSlaves holds one channel per slave rank, indexed [slaveRank-1] on
	// the master; nil and unused on a slave.
	toSlaves []comm.Channel
	// toMaster is the channel to rank 0; nil and unused on the master.
	toMaster comm.Channel
	log      log.Logger
}

// NewMaster constructs the master-side Coordinator for a group of the
// given size, communicating with each slave over toSlaves (indexed
// [slaveRank-1]).
func NewMaster(size int, toSlaves []comm.Channel, deps Deps) (Coordinator, error) {
	if size < 1 {
		return nil, cplcore.ConfigurationError("coordinator.NewMaster", fmt.Errorf("group size must be >= 1, got %d", size))
	}
	if len(toSlaves) != size-1 {
		return nil, cplcore.ConfigurationError("coordinator.NewMaster", fmt.Errorf("expected %d slave channels, got %d", size-1, len(toSlaves)))
	}
	if size == 1 {
		return NewLocal(deps), nil
	}
	l := deps.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	l.Info("master-slave coordinator ready", "size", size)
	return &groupCoordinator{
		self: ids.GenerateTestNodeID(), rank: 0, size: size, isMaster: true,
		toSlaves: toSlaves, log: l,
	}, nil
}

// NewSlave constructs a slave-side Coordinator at the given rank (>= 1)
// within a group of the given size, communicating with the master over
// toMaster.
func NewSlave(rank, size int, toMaster comm.Channel, deps Deps) (Coordinator, error) {
	if rank < 1 || rank >= size {
		return nil, cplcore.ConfigurationError("coordinator.NewSlave", fmt.Errorf("rank %d out of range for group size %d", rank, size))
	}
	l := deps.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &groupCoordinator{
		self: ids.GenerateTestNodeID(), rank: rank, size: size, isMaster: false,
		toMaster: toMaster, log: l,
	}, nil
}

func (c *groupCoordinator) Self() ids.NodeID { return c.self }
func (c *groupCoordinator) Rank() int        { return c.rank }
func (c *groupCoordinator) Size() int        { return c.size }
func (c *groupCoordinator) IsMaster() bool   { return c.isMaster }

func (c *groupCoordinator) BroadcastInt(v int) (int, error) {
	if c.isMaster {
		for _, ch := range c.toSlaves {
			if err := ch.SendInt(v); err != nil {
				return 0, err
			}
		}
		return v, nil
	}
	return c.toMaster.ReceiveInt()
}

func (c *groupCoordinator) BroadcastFloat64(v float64) (float64, error) {
	if c.isMaster {
		for _, ch := range c.toSlaves {
			if err := ch.SendFloat64(v); err != nil {
				return 0, err
			}
		}
		return v, nil
	}
	return c.toMaster.ReceiveFloat64()
}

func (c *groupCoordinator) BroadcastBool(v bool) (bool, error) {
	if c.isMaster {
		for _, ch := range c.toSlaves {
			if err := ch.SendBool(v); err != nil {
				return false, err
			}
		}
		return v, nil
	}
	return c.toMaster.ReceiveBool()
}

func (c *groupCoordinator) ReduceSumInt(v int) (int, error) {
	if c.isMaster {
		sum := v
		for _, ch := range c.toSlaves {
			x, err := ch.ReceiveInt()
			if err != nil {
				return 0, err
			}
			sum += x
		}
		return sum, nil
	}
	return 0, c.toMaster.SendInt(v)
}

func (c *groupCoordinator) ReduceSumFloat64(v float64) (float64, error) {
	if c.isMaster {
		sum := v
		for _, ch := range c.toSlaves {
			x, err := ch.ReceiveFloat64()
			if err != nil {
				return 0, err
			}
			sum += x
		}
		return sum, nil
	}
	return 0, c.toMaster.SendFloat64(v)
}

func (c *groupCoordinator) ReduceSumFloat64s(v []float64) ([]float64, error) {
	if c.isMaster {
		sum := make([]float64, len(v))
		copy(sum, v)
		for _, ch := range c.toSlaves {
			x, err := ch.ReceiveFloat64s(len(v))
			if err != nil {
				return nil, err
			}
			for i := range sum {
				sum[i] += x[i]
			}
		}
		return sum, nil
	}
	return nil, c.toMaster.SendFloat64s(v)
}

func (c *groupCoordinator) AllReduceSumInt(v int) (int, error) {
	sum, err := c.ReduceSumInt(v)
	if err != nil {
		return 0, err
	}
	return c.BroadcastInt(sum)
}

func (c *groupCoordinator) AllReduceSumFloat64(v float64) (float64, error) {
	sum, err := c.ReduceSumFloat64(v)
	if err != nil {
		return 0, err
	}
	return c.BroadcastFloat64(sum)
}

func (c *groupCoordinator) AllReduceSumFloat64s(v []float64) ([]float64, error) {
	sum, err := c.ReduceSumFloat64s(v)
	if err != nil {
		return nil, err
	}
	if c.isMaster {
		for _, ch := range c.toSlaves {
			if err := ch.SendFloat64s(sum); err != nil {
				return nil, err
			}
		}
		return sum, nil
	}
	return c.toMaster.ReceiveFloat64s(len(v))
}

func (c *groupCoordinator) GatherOffsets(localSize int) ([]int, int, error) {
	sizes := make([]int, c.size)
	if c.isMaster {
		sizes[0] = localSize
		for i, ch := range c.toSlaves {
			n, err := ch.ReceiveInt()
			if err != nil {
				return nil, 0, err
			}
			sizes[i+1] = n
		}
	} else {
		if err := c.toMaster.SendInt(localSize); err != nil {
			return nil, 0, err
		}
	}

	offsets := make([]int, c.size)
	total := 0
	if c.isMaster {
		offsets, total = prefixSums(sizes)
		for _, ch := range c.toSlaves {
			if err := sendIntSlice(ch, offsets); err != nil {
				return nil, 0, err
			}
			if err := ch.SendInt(total); err != nil {
				return nil, 0, err
			}
		}
		return offsets, total, nil
	}

	offsets, err := receiveIntSlice(c.toMaster, c.size)
	if err != nil {
		return nil, 0, err
	}
	total, err = c.toMaster.ReceiveInt()
	if err != nil {
		return nil, 0, err
	}
	return offsets, total, nil
}

func (c *groupCoordinator) Close() error {
	var firstErr error
	for _, ch := range c.toSlaves {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.toMaster != nil {
		if err := c.toMaster.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func prefixSums(sizes []int) ([]int, int) {
	offsets := make([]int, len(sizes))
	total := 0
	for i, n := range sizes {
		offsets[i] = total
		total += n
	}
	return offsets, total
}

func sendIntSlice(ch comm.Channel, v []int) error { return ch.SendInts(v) }

func receiveIntSlice(ch comm.Channel, n int) ([]int, error) { return ch.ReceiveInts(n) }

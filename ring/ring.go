// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ring implements the cyclic slave-ring transport:
// each slave rank opens one channel to its left neighbour and one to its
// right neighbour. Its one consumer is accel/distmat's ring-pipelined
// product (MultiplyRingPipelined).
//
// Ring always connects over the ports-based CommChannel realization
// (comm.AcceptPorts/RequestPorts), never the direct/group-communicator
// one: the neighbouring slave ranks may live in different jobs with no
// shared communicator, and one transport for every deployment beats a
// build-time switch.
//
// Every rank accepts its right leg and requests its left leg, so each leg
// has exactly one acceptor and one requester; an even/odd parity rule
// orders the two calls so the cyclic topology cannot deadlock during
// connect.
package ring

import (
	"fmt"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/comm"
)

// Ring is one rank's view of the cyclic slave-ring transport: a channel to
// its left neighbour and one to its right neighbour.
type Ring interface {
	// SendLeft/ReceiveLeft exchange data with the left (rank-1) neighbour.
	SendLeftFloat64s(v []float64) error
	ReceiveLeftFloat64s(n int) ([]float64, error)

	// SendRight/ReceiveRight exchange data with the right (rank+1)
	// neighbour.
	SendRightFloat64s(v []float64) error
	ReceiveRightFloat64s(n int) ([]float64, error)

	Close() error
}

type ringChannels struct {
	left  comm.Channel
	right comm.Channel
}

var _ Ring = (*ringChannels)(nil)

func (r *ringChannels) SendLeftFloat64s(v []float64) error    { return r.left.SendFloat64s(v) }
func (r *ringChannels) ReceiveLeftFloat64s(n int) ([]float64, error) {
	return r.left.ReceiveFloat64s(n)
}
func (r *ringChannels) SendRightFloat64s(v []float64) error { return r.right.SendFloat64s(v) }
func (r *ringChannels) ReceiveRightFloat64s(n int) ([]float64, error) {
	return r.right.ReceiveFloat64s(n)
}

func (r *ringChannels) Close() error {
	errLeft := r.left.Close()
	errRight := r.right.Close()
	if errLeft != nil {
		return errLeft
	}
	return errRight
}

// neighbourKey names the rendezvous key for the ports-based channel between
// ranks rank and rank+1 (mod size), published by whichever of the two sides
// accepts it.
func neighbourKey(rank, size int) string {
	return fmt.Sprintf("ring-neighbour-%d-%d", rank, (rank+1)%size)
}

func rankName(rank int) string {
	return fmt.Sprintf("rank-%d", rank)
}

// Connect establishes this rank's two ring legs against the given
// Rendezvous. size must be >= 2: a ring of one rank would connect to
// itself.
//
// Every rank accepts its right-leg connection and requests its left-leg
// one, so each leg has exactly one acceptor and one requester. Parity
// orders the two calls — even ranks accept before requesting, odd ranks
// request before accepting — so no two adjacent ranks block on the same
// call first.
func Connect(rv comm.Rendezvous, rank, size int) (Ring, error) {
	if size < 2 {
		return nil, cplcore.ConfigurationError("ring.Connect", fmt.Errorf("ring size must be >= 2, got %d", size))
	}
	if rank < 0 || rank >= size {
		return nil, cplcore.ConfigurationError("ring.Connect", fmt.Errorf("rank %d out of range for ring size %d", rank, size))
	}

	leftRank := (rank - 1 + size) % size
	rightRank := (rank + 1) % size

	// The leg between rank and rightRank is keyed by neighbourKey(rank, size);
	// rank accepts it (as its right leg) and rightRank requests it (as its
	// left leg). Symmetrically, the leg between leftRank and rank is keyed
	// by neighbourKey(leftRank, size); leftRank accepts it and rank requests
	// it (as its left leg).
	rightLegKey := neighbourKey(rank, size)
	leftLegKey := neighbourKey(leftRank, size)

	var right, left comm.Channel
	var err error

	if rank%2 == 0 {
		right, err = comm.AcceptPorts(rv, rightLegKey, rankName(rank), rankName(rightRank))
		if err != nil {
			return nil, err
		}
		left, err = comm.RequestPorts(rv, leftLegKey, rankName(rank), rankName(leftRank))
		if err != nil {
			right.Close()
			return nil, err
		}
	} else {
		left, err = comm.RequestPorts(rv, leftLegKey, rankName(rank), rankName(leftRank))
		if err != nil {
			return nil, err
		}
		right, err = comm.AcceptPorts(rv, rightLegKey, rankName(rank), rankName(rightRank))
		if err != nil {
			left.Close()
			return nil, err
		}
	}

	return &ringChannels{left: left, right: right}, nil
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package distmat implements distributed matrix products A*B where one
// operand is block-row distributed across the local participant group and
// the other is replicated, used by the IMVJ restart-mode factor-pair
// evaluation (Wtil_q * (Z_q * v)).
//
// A replicated result goes through a local multiply followed by an
// allreduce, the same shape m2n uses for its own gather collective; a
// block-row-distributed result whose partitioning differs from the
// operand's goes through a pipelined block multiply over the cyclic slave
// ring.
package distmat

import (
	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore/coordinator"
	"github.com/precice-go/cplcore/ring"
)

// MultiplyToReplicated computes this rank's product localA*bReplicated via
// a local multiply, sums it element-wise across the group with an
// allreduce, and returns the summed matrix (the local product's shape) on
// every rank. The sum is the full product when the inner dimension is the
// distributed one: each rank supplies its own columns of A and the
// matching rows of B.
//
// This is the shape used by Z_q * v: Z_q (k x n) times v (n), summed
// across ranks into the replicated k-length result.
func MultiplyToReplicated(coord coordinator.Coordinator, localA *mat.Dense, bReplicated mat.Matrix) (*mat.Dense, error) {
	var local mat.Dense
	local.Mul(localA, bReplicated)
	rows, cols := local.Dims()

	flat := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			flat[i*cols+j] = local.At(i, j)
		}
	}
	summed, err := coord.AllReduceSumFloat64s(flat)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, summed[i*cols+j])
		}
	}
	return out, nil
}

// MultiplyRingPipelined computes the block-row-distributed product of
// localWtil (this rank's row block of Wtil_q, rows == local n, cols == k)
// against zv (the replicated k-length result of a prior Z_q*v reduction),
// when the caller additionally needs the result's row blocks redistributed
// to match a different partitioning than localWtil's own, the case served
// by the cyclic slave ring rather than a plain allreduce.
//
// Implementation: each rank computes its local contribution
// localWtil * zv, then the ring rotates per-rank contributions size-1
// times so every rank accumulates every other rank's contribution summed
// into its own row block, the pipelined analogue of an allreduce that
// stays within ring-neighbour hops instead of a group-wide collective.
func MultiplyRingPipelined(r ring.Ring, size int, localContribution []float64) ([]float64, error) {
	acc := append([]float64(nil), localContribution...)
	cur := append([]float64(nil), localContribution...)

	for step := 0; step < size-1; step++ {
		if err := r.SendRightFloat64s(cur); err != nil {
			return nil, err
		}
		next, err := r.ReceiveLeftFloat64s(len(cur))
		if err != nil {
			return nil, err
		}
		for i := range acc {
			acc[i] += next[i]
		}
		cur = next
	}
	return acc, nil
}

// LocalContribution computes one rank's localWtil * zv term prior to a
// MultiplyRingPipelined pass.
func LocalContribution(localWtil *mat.Dense, zv []float64) []float64 {
	rows, cols := localWtil.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += localWtil.At(i, j) * zv[j]
		}
		out[i] = sum
	}
	return out
}

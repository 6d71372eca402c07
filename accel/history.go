// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package accel

import "gonum.org/v1/gonum/mat"

// History holds the V (residual differences) and W (iterate differences)
// column matrices, each column ordered most-recent-first,
// plus the FIFO deque of per-completed-time-step column counts that bounds
// how far back IQN-ILS/IQN-IMVJ reuse data.
//
// Columns are kept as a slice of vectors rather than as a fixed-size
// gonum mat.Dense because the column count changes every iteration; V()
// and W() materialize a *mat.Dense snapshot on demand for callers that need
// one (QR factorization, Jacobian update).
type History struct {
	n int

	// vCols/wCols hold one entry per retained column, index 0 most recent.
	vCols [][]float64
	wCols [][]float64

	// stepCounts is the FIFO deque of column counts contributed by each
	// already-completed retained time step, index 0 most recent.
	stepCounts []int
	// pending counts columns added since the last CompleteStep, not yet
	// pushed onto stepCounts.
	pending int

	maxUsedIterations int
	timestepsReused   int
}

// NewHistory creates an empty history for vectors of length n, capping the
// live column count at maxUsedIterations and retaining timestepsReused
// completed steps' worth of columns beyond the current step.
func NewHistory(n, maxUsedIterations, timestepsReused int) *History {
	if maxUsedIterations < 1 {
		maxUsedIterations = 1
	}
	return &History{n: n, maxUsedIterations: maxUsedIterations, timestepsReused: timestepsReused}
}

// NumColumns reports the current live column count of V (== W).
func (h *History) NumColumns() int { return len(h.vCols) }

// Prepend adds a new (v, w) column pair at the front (most recent),
// dropping the oldest column if the cap maxUsedIterations is exceeded.
func (h *History) Prepend(v, w []float64) {
	h.vCols = append([][]float64{append([]float64(nil), v...)}, h.vCols...)
	h.wCols = append([][]float64{append([]float64(nil), w...)}, h.wCols...)
	h.pending++
	for len(h.vCols) > h.maxUsedIterations {
		h.vCols = h.vCols[:len(h.vCols)-1]
		h.wCols = h.wCols[:len(h.wCols)-1]
	}
}

// CompleteStep pushes the pending column count onto the step deque and
// drops columns belonging to time steps older than timestepsReused.
func (h *History) CompleteStep() {
	h.stepCounts = append([]int{h.pending}, h.stepCounts...)
	h.pending = 0
	for len(h.stepCounts) > h.timestepsReused {
		oldest := h.stepCounts[len(h.stepCounts)-1]
		h.stepCounts = h.stepCounts[:len(h.stepCounts)-1]
		if oldest > len(h.vCols) {
			oldest = len(h.vCols)
		}
		h.vCols = h.vCols[:len(h.vCols)-oldest]
		h.wCols = h.wCols[:len(h.wCols)-oldest]
	}
}

// Reset discards every column and the step deque, leaving an empty history.
func (h *History) Reset() {
	h.vCols = nil
	h.wCols = nil
	h.stepCounts = nil
	h.pending = 0
}

// Column returns the j-th (0 = most recent) V/W column pair.
func (h *History) Column(j int) (v, w []float64) { return h.vCols[j], h.wCols[j] }

// Pending reports how many live columns belong to the current, not yet
// completed time step. Never exceeds NumColumns: the cap on live columns
// can trim a long step's own oldest columns.
func (h *History) Pending() int {
	if h.pending > len(h.vCols) {
		return len(h.vCols)
	}
	return h.pending
}

// PendingVW materializes only the current step's columns as V/W matrices,
// or (nil, nil) when the step has contributed none yet.
func (h *History) PendingVW() (v, w *mat.Dense) {
	k := h.Pending()
	if k == 0 {
		return nil, nil
	}
	return toDense(h.n, h.vCols[:k]), toDense(h.n, h.wCols[:k])
}

// V materializes the current V matrix, n rows by NumColumns() columns,
// column 0 most recent.
func (h *History) V() *mat.Dense { return toDense(h.n, h.vCols) }

// W materializes the current W matrix, n rows by NumColumns() columns,
// column 0 most recent.
func (h *History) W() *mat.Dense { return toDense(h.n, h.wCols) }

func toDense(n int, cols [][]float64) *mat.Dense {
	m := mat.NewDense(n, len(cols), nil)
	for j, c := range cols {
		m.SetCol(j, c)
	}
	return m
}

// dropColumns keeps only the columns at the given indices (into the current
// vCols/wCols ordering, ascending) in both V and W and drops the rest, used
// by a QR filter that eliminates columns below its threshold.
func (h *History) dropColumns(keep []int) {
	newV := make([][]float64, len(keep))
	newW := make([][]float64, len(keep))
	pending := 0
	for i, idx := range keep {
		newV[i] = h.vCols[idx]
		newW[i] = h.wCols[idx]
		if idx < h.pending {
			pending++
		}
	}
	h.vCols = newV
	h.wCols = newW
	h.pending = pending
}

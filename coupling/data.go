// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coupling implements the CouplingData registry: the
// per-interface data field a scheme owns, tracking the current iterate
// alongside a rolling history of completed time steps.
//
// MeshHandle is the consumed external contract standing in for a mesh
// library this module does not own: it reports only a mesh's local vertex
// count.
package coupling

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/precice-go/cplcore"
)

// MeshID names a declared interface mesh.
type MeshID string

// DataID names a declared data field on a mesh, distinct from MeshID so
// the two are never confused at a call site.
type DataID string

// MeshHandle is the minimal mesh contract CouplingData needs: the local
// vertex count of the mesh one of its data fields lives on.
type MeshHandle interface {
	VertexCount() int
}

// Direction records whether a CouplingData field is sent or received by the
// scheme that owns it.
type Direction int

const (
	Received Direction = iota
	Sent
)

// Data is one CouplingData registry entry.
type Data struct {
	ID      DataID
	Mesh    MeshID
	Dim     int
	Dir     Direction
	// Init is true when the value at t=0 is user-provided rather than
	// zero-initialized.
	Init bool

	values []float64
	// old has one column per retained step; column 0 is the most recently
	// completed step. Rows == len(values).
	old *mat.Dense
}

// New creates a CouplingData field of size vertexCount*dim, with maxHistory
// retained past-step columns (maxHistory == 0 means no history is kept).
func New(id DataID, mesh MeshID, dim int, dir Direction, vertexCount, maxHistory int) (*Data, error) {
	if dim < 1 {
		return nil, cplcore.ConfigurationError("coupling.New", fmt.Errorf("dataDim must be >= 1, got %d", dim))
	}
	if vertexCount < 0 {
		return nil, cplcore.ConfigurationError("coupling.New", fmt.Errorf("vertexCount must be >= 0, got %d", vertexCount))
	}
	n := vertexCount * dim
	d := &Data{ID: id, Mesh: mesh, Dim: dim, Dir: dir, values: make([]float64, n)}
	if maxHistory > 0 {
		d.old = mat.NewDense(n, maxHistory, nil)
	}
	return d, nil
}

// Values returns the current iterate, length vertexCount*Dim.
func (d *Data) Values() []float64 { return d.values }

// SetValues overwrites the current iterate. len(v) must equal len(Values()).
func (d *Data) SetValues(v []float64) error {
	if len(v) != len(d.values) {
		return cplcore.ProtocolError("coupling.SetValues", cplcore.ErrLengthMismatch)
	}
	copy(d.values, v)
	return nil
}

// HasHistory reports whether this field retains any past-step columns.
func (d *Data) HasHistory() bool { return d.old != nil }

// OldValues returns the retained past-step history; column 0 is the most
// recently completed step. Returns nil if no history is retained.
func (d *Data) OldValues() *mat.Dense { return d.old }

// OldColumn returns the values at history column j, or an error if j is out
// of range or no history is retained.
func (d *Data) OldColumn(j int) ([]float64, error) {
	if d.old == nil {
		return nil, cplcore.UsageError("coupling.OldColumn", fmt.Errorf("field %q retains no history", d.ID))
	}
	rows, cols := d.old.Dims()
	if j < 0 || j >= cols {
		return nil, cplcore.UsageError("coupling.OldColumn", fmt.Errorf("history column %d out of range [0,%d)", j, cols))
	}
	out := make([]float64, rows)
	mat.Col(out, j, d.old)
	return out, nil
}

// CompleteStep shifts the retained history right by one column (dropping
// the oldest) and writes the current iterate into column 0, the way a
// completed time step's converged values become the new "previous step"
// baseline for the next step's iterations.
func (d *Data) CompleteStep() {
	if d.old == nil {
		return
	}
	rows, cols := d.old.Dims()
	for j := cols - 1; j > 0; j-- {
		for i := 0; i < rows; i++ {
			d.old.Set(i, j, d.old.At(i, j-1))
		}
	}
	for i := 0; i < rows; i++ {
		d.old.Set(i, 0, d.values[i])
	}
}

// Registry holds every CouplingData field a scheme owns, keyed by DataID.
type Registry struct {
	fields map[DataID]*Data
}

// NewRegistry creates an empty CouplingData registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[DataID]*Data)}
}

// Add registers d, replacing any existing field with the same ID.
func (r *Registry) Add(d *Data) { r.fields[d.ID] = d }

// Get returns the field registered under id, or ok=false if none is.
func (r *Registry) Get(id DataID) (*Data, bool) {
	d, ok := r.fields[id]
	return d, ok
}

// All returns every registered field; order is unspecified.
func (r *Registry) All() []*Data {
	out := make([]*Data, 0, len(r.fields))
	for _, d := range r.fields {
		out = append(out, d)
	}
	return out
}

// Sent returns every field registered with Direction Sent.
func (r *Registry) Sent() []*Data { return r.byDirection(Sent) }

// Received returns every field registered with Direction Received.
func (r *Registry) Received() []*Data { return r.byDirection(Received) }

func (r *Registry) byDirection(dir Direction) []*Data {
	var out []*Data
	for _, d := range r.fields {
		if d.Dir == dir {
			out = append(out, d)
		}
	}
	return out
}

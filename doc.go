// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cplcore implements the coupling-scheme engine and parallel
// coupling fabric at the core of a partitioned multi-physics coupling
// library: independent solver processes exchange boundary data at mesh
// interfaces and negotiate iterative convergence through a quasi-Newton
// acceleration core.
//
// The package tree mirrors the dependency order of the subsystems it
// implements, leaves first:
//
//   - comm          ordered byte transport between two endpoints
//   - coordinator   master-slave reduction/broadcast over a local group
//   - ring          cyclic slave-ring transport for IMVJ restarts
//   - m2n           many-to-many channel between two participant groups
//   - coupling      per-interface data registry (CouplingData)
//   - accel         quasi-Newton acceleration / post-processing core
//   - convergence   per-field convergence predicates and their combination
//   - cplscheme     the coupling-scheme state machine and its concrete variants
//
// Mesh geometry, spatial mapping, XML configuration loading, VTK/TXT
// export, and the solver-facing facade are out of scope; this module
// consumes them only at the narrow contracts described in config and
// coupling.MeshHandle.
package cplcore

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package m2n implements the M2N channel: one logical link between two
// distributed participant groups, carrying a master-to-master control
// channel plus a distributed vertex-data transport (gather-scatter through
// the masters, or direct point-to-point rank channels).
package m2n

import (
	"fmt"
	"sync"

	"github.com/luxfi/math/set"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/precice-go/cplcore"
	"github.com/precice-go/cplcore/comm"
	"github.com/precice-go/cplcore/coordinator"
)

// Transport selects the distributed vertex-data transport an M2N channel
// uses.
type Transport int

const (
	// GatherScatter funnels both sides' vertex data through their
	// respective masters; the master↔master channel carries the
	// concatenated vector ordered by global vertex index.
	GatherScatter Transport = iota
	// PointToPoint has each local rank hold a direct channel to the peer
	// rank that owns the overlapping vertex ID range.
	PointToPoint
)

// M2N is the public channel contract. Send/Receive are collective across
// the local group: every rank in the local group must call them for a
// given exchange to complete.
type M2N interface {
	AcceptMasterConnection(reg *comm.Registry, selfName, peerName string) error
	RequestMasterConnection(reg *comm.Registry, selfName, peerName string) error

	// AcceptSlavesConnection/RequestSlavesConnection establish the
	// distributed transport. For GatherScatter this is a no-op (all data
	// already flows through the master↔master channel); for PointToPoint
	// each local rank connects to its counterpart peer rank.
	AcceptSlavesConnection(rv comm.Rendezvous) error
	RequestSlavesConnection(rv comm.Rendezvous) error

	// PeerRanks returns the peer ranks this local rank holds a direct
	// point-to-point channel to — "the peer ranks that own overlapping
	// vertex ID ranges" — or an empty set for GatherScatter,
	// where no per-rank peer channel exists.
	PeerRanks() set.Set[int]

	// Send funnels vector (this rank's local slice of meshID's data, with
	// dataDim components per vertex) to the peer group.
	Send(vector []float64, meshID string, dataDim int) error
	// Receive blocks until the matching peer-side Send completes and
	// returns this rank's local slice (n values) of meshID's data.
	Receive(meshID string, dataDim int, n int) ([]float64, error)

	IsConnected() bool
	Close() error
}

type channel struct {
	coord     coordinator.Coordinator
	transport Transport

	mu        sync.Mutex
	master    comm.Channel // set on the master rank only
	connected bool

	// peer holds this rank's direct point-to-point channel to its
	// counterpart peer rank; nil when transport == GatherScatter.
	peer comm.Channel
	// peerRanks is the set of peer ranks peer addresses; empty until AcceptSlavesConnection/
	// RequestSlavesConnection establishes it, and always empty for
	// GatherScatter.
	peerRanks set.Set[int]

	m *metrics
}

// New constructs an unconnected M2N channel for the local participant
// group coordinated by coord. name identifies the channel in registered
// metrics (e.g. "fluid-structure").
func New(coord coordinator.Coordinator, transport Transport, registerer prometheus.Registerer, name string) (M2N, error) {
	m, err := newMetrics(registerer, name)
	if err != nil {
		return nil, cplcore.ConfigurationError("m2n.New", err)
	}
	return &channel{coord: coord, transport: transport, m: m}, nil
}

func (c *channel) AcceptMasterConnection(reg *comm.Registry, selfName, peerName string) error {
	if !c.coord.IsMaster() {
		return nil
	}
	ch, err := reg.Accept(selfName, peerName, 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.master = ch
	c.connected = true
	c.mu.Unlock()
	c.m.connected.Set(1)
	return nil
}

func (c *channel) RequestMasterConnection(reg *comm.Registry, selfName, peerName string) error {
	if !c.coord.IsMaster() {
		return nil
	}
	ch, err := reg.Request(selfName, peerName, 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.master = ch
	c.connected = true
	c.mu.Unlock()
	c.m.connected.Set(1)
	return nil
}

func (c *channel) AcceptSlavesConnection(rv comm.Rendezvous) error {
	if c.transport != PointToPoint {
		return nil
	}
	key := fmt.Sprintf("m2n-p2p-%d", c.coord.Rank())
	ch, err := comm.AcceptPorts(rv, key, c.selfPeerName(), c.counterpartPeerName())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.peer = ch
	c.connected = true
	c.peerRanks = set.Of(c.coord.Rank())
	c.mu.Unlock()
	return nil
}

func (c *channel) RequestSlavesConnection(rv comm.Rendezvous) error {
	if c.transport != PointToPoint {
		return nil
	}
	key := fmt.Sprintf("m2n-p2p-%d", c.coord.Rank())
	ch, err := comm.RequestPorts(rv, key, c.counterpartPeerName(), c.selfPeerName())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.peer = ch
	c.connected = true
	c.peerRanks = set.Of(c.coord.Rank())
	c.mu.Unlock()
	return nil
}

// PeerRanks returns the set of peer ranks this rank holds a direct
// point-to-point channel to. Always empty for GatherScatter.
func (c *channel) PeerRanks() set.Set[int] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerRanks == nil {
		return set.Set[int]{}
	}
	return c.peerRanks
}

// selfPeerName/counterpartPeerName identify this rank's side of a
// point-to-point leg. Vertex-range ownership across groups of unequal size
// is a mesh-partitioning concern this package does not own; this pairs
// rank i of each group with rank i of the other, which holds for
// equal-sized groups.
func (c *channel) selfPeerName() string        { return fmt.Sprintf("local-%d", c.coord.Rank()) }
func (c *channel) counterpartPeerName() string { return fmt.Sprintf("peer-%d", c.coord.Rank()) }

func (c *channel) Send(vector []float64, meshID string, dataDim int) error {
	switch c.transport {
	case GatherScatter:
		return c.sendGatherScatter(vector)
	case PointToPoint:
		return c.sendPointToPoint(vector)
	default:
		return cplcore.ConfigurationError("m2n.Send", fmt.Errorf("unknown transport %d", c.transport))
	}
}

func (c *channel) Receive(meshID string, dataDim int, n int) ([]float64, error) {
	switch c.transport {
	case GatherScatter:
		return c.receiveGatherScatter(n)
	case PointToPoint:
		return c.receivePointToPoint(n)
	default:
		return nil, cplcore.ConfigurationError("m2n.Receive", fmt.Errorf("unknown transport %d", c.transport))
	}
}

// sendGatherScatter gathers every local rank's vector into the master
// (concatenated in rank order, which matches the global vertex index order
// established by coordinator.GatherOffsets), and the master forwards the
// concatenated vector over the master↔master channel.
func (c *channel) sendGatherScatter(vector []float64) error {
	gathered, err := gatherConcat(c.coord, vector)
	if err != nil {
		return err
	}
	if !c.coord.IsMaster() {
		return nil
	}
	c.mu.Lock()
	master := c.master
	c.mu.Unlock()
	if master == nil {
		return cplcore.ProtocolError("m2n send", cplcore.ErrNotConnected)
	}
	if err := master.SendFloat64s(gathered); err != nil {
		return err
	}
	c.m.exchangesCompleted.Inc()
	c.m.bytesSent.Add(float64(len(gathered) * 8))
	return nil
}

// receiveGatherScatter is the receiving counterpart: the master receives
// the concatenated vector and scatters each rank's slice back out. Exactly
// one GatherOffsets per call on every rank, so the collective sequence
// stays symmetric across the group.
func (c *channel) receiveGatherScatter(n int) ([]float64, error) {
	offsets, total, err := c.coord.GatherOffsets(n)
	if err != nil {
		return nil, err
	}

	var concat []float64
	if c.coord.IsMaster() {
		c.mu.Lock()
		master := c.master
		c.mu.Unlock()
		if master == nil {
			return nil, cplcore.ProtocolError("m2n receive", cplcore.ErrNotConnected)
		}
		concat, err = master.ReceiveFloat64s(total)
		if err != nil {
			return nil, err
		}
		c.m.bytesReceived.Add(float64(len(concat) * 8))
		c.m.exchangesCompleted.Inc()
	}
	if c.coord.Size() == 1 {
		return concat, nil
	}

	// Only the master contributes nonzero values, so the allreduce doubles
	// as the scatter broadcast.
	src := make([]float64, total)
	if c.coord.IsMaster() {
		copy(src, concat)
	}
	full, err := c.coord.AllReduceSumFloat64s(src)
	if err != nil {
		return nil, err
	}
	rank := c.coord.Rank()
	return full[offsets[rank] : offsets[rank]+n], nil
}

func (c *channel) sendPointToPoint(vector []float64) error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return cplcore.ProtocolError("m2n send", cplcore.ErrNotConnected)
	}
	if err := peer.SendFloat64s(vector); err != nil {
		return err
	}
	c.m.exchangesCompleted.Inc()
	c.m.bytesSent.Add(float64(len(vector) * 8))
	return nil
}

func (c *channel) receivePointToPoint(n int) ([]float64, error) {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	if peer == nil {
		return nil, cplcore.ProtocolError("m2n receive", cplcore.ErrNotConnected)
	}
	out, err := peer.ReceiveFloat64s(n)
	if err != nil {
		return nil, err
	}
	c.m.bytesReceived.Add(float64(len(out) * 8))
	c.m.exchangesCompleted.Inc()
	return out, nil
}

func (c *channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if c.master != nil {
		if err := c.master.Close(); err != nil {
			firstErr = err
		}
		c.master = nil
	}
	if c.peer != nil {
		if err := c.peer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.peer = nil
	}
	c.connected = false
	return firstErr
}

// gatherConcat gathers every rank's vector into the master, concatenated in
// rank order. Non-master ranks get a nil slice back.
func gatherConcat(coord coordinator.Coordinator, vector []float64) ([]float64, error) {
	offsets, total, err := coord.GatherOffsets(len(vector))
	if err != nil {
		return nil, err
	}
	if coord.Size() == 1 {
		return vector, nil
	}
	// AllReduceSumFloat64s over a zero-padded global-length vector is the
	// simplest collective this package's Coordinator exposes that yields a
	// concatenation: each rank contributes its values at its own offset and
	// zero elsewhere.
	padded := make([]float64, total)
	copy(padded[offsets[coord.Rank()]:], vector)
	return coord.AllReduceSumFloat64s(padded)
}


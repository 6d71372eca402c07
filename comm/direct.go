// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/precice-go/cplcore"
)

// endpointKey identifies one side of a rendezvous: the pair of names
// involved plus the accepting/requesting rank, the way an intercommunicator
// handshake is keyed by (group, peerGroup, leaderRank) over a shared
// communicator.
type endpointKey struct {
	selfName, peerName string
	rank               int
}

func (k endpointKey) mirror() endpointKey {
	return endpointKey{selfName: k.peerName, peerName: k.selfName, rank: k.rank}
}

// Registry stands in for the "existing group communicator" the direct
// CommChannel realization rides on. A process that owns multiple ranks
// talking to multiple peers shares one Registry across all of them.
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	waiting map[endpointKey]io.ReadWriteCloser
}

// NewRegistry creates an empty rendezvous registry.
func NewRegistry() *Registry {
	return &Registry{waiting: make(map[endpointKey]io.ReadWriteCloser)}
}

// Accept completes the handshake for selfName, blocking until a matching
// Request arrives for (peerName, selfName, rank).
func (r *Registry) Accept(selfName, peerName string, rank int) (Channel, error) {
	return r.rendezvous(endpointKey{selfName: selfName, peerName: peerName, rank: rank}, selfName, peerName)
}

// Request completes the handshake for selfName, blocking until a matching
// Accept arrives for (selfName, peerName, rank).
func (r *Registry) Request(selfName, peerName string, rank int) (Channel, error) {
	return r.rendezvous(endpointKey{selfName: peerName, peerName: selfName, rank: rank}, selfName, peerName)
}

// rendezvous pairs the first caller for a key with the second: both sides
// converge on the same canonical key (accepting side's own name first), so
// whichever of Accept/Request arrives first creates the duplex pipe and
// parks the other end under that key for the second caller to take. Once
// connected, both sides exchange their own names (selfName/peerName) and
// fail with ConnectionError on a mismatch.
func (r *Registry) rendezvous(key endpointKey, selfName, peerName string) (Channel, error) {
	r.mu.Lock()
	if conn, ok := r.waiting[key]; ok {
		delete(r.waiting, key)
		r.mu.Unlock()
		return handshakeNames(conn, selfName, peerName)
	}
	local, remote := newDuplexPipe()
	r.waiting[key] = remote
	r.mu.Unlock()
	return handshakeNames(local, selfName, peerName)
}

// bufPipe is one direction of an in-process duplex pipe: an unbounded byte
// queue with blocking reads. Unlike net.Pipe, a write completes without
// waiting for the matching read, the way a socket's kernel buffer absorbs a
// send — both sides of a parallel exchange may therefore send before either
// receives.
type bufPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newBufPipe() *bufPipe {
	p := &bufPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *bufPipe) write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf = append(p.buf, b...)
	p.cond.Broadcast()
	return len(b), nil
}

func (p *bufPipe) read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *bufPipe) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// duplexEnd is one endpoint of a pair of cross-wired bufPipes.
type duplexEnd struct {
	r, w *bufPipe
}

func (d *duplexEnd) Read(b []byte) (int, error)  { return d.r.read(b) }
func (d *duplexEnd) Write(b []byte) (int, error) { return d.w.write(b) }

func (d *duplexEnd) Close() error {
	d.r.close()
	d.w.close()
	return nil
}

// newDuplexPipe returns the two ends of a buffered in-process duplex byte
// stream.
func newDuplexPipe() (io.ReadWriteCloser, io.ReadWriteCloser) {
	a, b := newBufPipe(), newBufPipe()
	return &duplexEnd{r: a, w: b}, &duplexEnd{r: b, w: a}
}

// handshakeNames exchanges selfName/peerName over conn and verifies the
// peer agrees on who it is, before any application data flows.
func handshakeNames(conn io.ReadWriteCloser, selfName, peerName string) (Channel, error) {
	f := newFrameReadWriter(conn)
	if err := f.SendString(selfName); err != nil {
		return nil, err
	}
	got, err := f.ReceiveString()
	if err != nil {
		return nil, err
	}
	if got != peerName {
		f.Close()
		return nil, cplcore.ConnectionError("handshake", errMismatch(got, peerName))
	}
	return &directChannel{frameReadWriter: f}, nil
}

// directChannel is the direct-realization CommChannel: a frameReadWriter
// over an in-process duplex pipe (or, when dialed explicitly, a real
// net.Conn), playing the role of a peer-leader connection over a shared
// communicator without requiring an actual MPI intercommunicator.
type directChannel struct {
	*frameReadWriter
}

func newDirectChannel(conn io.ReadWriteCloser) *directChannel {
	return &directChannel{frameReadWriter: newFrameReadWriter(conn)}
}

var _ Channel = (*directChannel)(nil)

// DialDirect opens a direct realization to a known TCP address, for the
// case where the two groups do share a reachable network path but no
// in-process Registry (e.g. two OS processes on the same host).
func DialDirect(addr string) (Channel, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cplcore.ConnectionError("dial direct", err)
	}
	return newDirectChannel(conn), nil
}

// ListenDirect accepts exactly one connection on addr and wraps it as a
// direct Channel. It is the accepting counterpart to DialDirect.
func ListenDirect(addr string) (Channel, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cplcore.ConnectionError("listen direct", err)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return nil, cplcore.ConnectionError("accept direct", err)
	}
	return newDirectChannel(conn), nil
}

func errMismatch(selfName, peerName string) error {
	return fmt.Errorf("comm: name mismatch accepting %q from %q", selfName, peerName)
}

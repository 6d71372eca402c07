// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"net"
	"sync"
	"time"

	"github.com/precice-go/cplcore"
)

// Rendezvous publishes and resolves the accepting side's address for the
// ports-based CommChannel realization. A process
// without a shared group communicator — e.g. two slave ranks in different
// HPC jobs forming a cyclic ring — uses this instead of a
// Registry.
type Rendezvous interface {
	Publish(key, addr string) error
	Resolve(key string) (string, error)
}

// memRendezvous is an in-process Rendezvous, used when "different jobs"
// are simulated as goroutines sharing memory.
type memRendezvous struct {
	mu   sync.Mutex
	addr map[string]string
}

// NewInMemoryRendezvous creates a Rendezvous backed by a plain map, usable
// across goroutines within one process.
func NewInMemoryRendezvous() Rendezvous {
	return &memRendezvous{addr: make(map[string]string)}
}

func (m *memRendezvous) Publish(key, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addr[key] = addr
	return nil
}

func (m *memRendezvous) Resolve(key string) (string, error) {
	deadline := time.Now().Add(30 * time.Second)
	for {
		m.mu.Lock()
		addr, ok := m.addr[key]
		m.mu.Unlock()
		if ok {
			return addr, nil
		}
		if time.Now().After(deadline) {
			return "", cplcore.ConnectionError("resolve", errRendezvousTimeout(key))
		}
		time.Sleep(time.Millisecond)
	}
}

// portsChannel is the ports/address-based CommChannel realization: the
// acceptor binds a net.Listener and publishes its address through a
// Rendezvous; the requester resolves it and dials.
type portsChannel struct {
	*frameReadWriter
}

var _ Channel = (*portsChannel)(nil)

// AcceptPorts binds an ephemeral TCP listener, publishes its address under
// key via r, accepts exactly one connection, and completes the name
// handshake.
func AcceptPorts(r Rendezvous, key, selfName, peerName string) (Channel, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, cplcore.ConnectionError("listen ports", err)
	}
	if err := r.Publish(key, ln.Addr().String()); err != nil {
		ln.Close()
		return nil, cplcore.ConnectionError("publish address", err)
	}
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, cplcore.ConnectionError("accept ports", err)
	}
	ch, err := handshakeNames(conn, selfName, peerName)
	if err != nil {
		return nil, err
	}
	return &portsChannel{frameReadWriter: ch.(*directChannel).frameReadWriter}, nil
}

// RequestPorts resolves the published address under key via r and dials it.
func RequestPorts(r Rendezvous, key, selfName, peerName string) (Channel, error) {
	addr, err := r.Resolve(key)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, cplcore.ConnectionError("dial ports", err)
	}
	ch, err := handshakeNames(conn, selfName, peerName)
	if err != nil {
		return nil, err
	}
	return &portsChannel{frameReadWriter: ch.(*directChannel).frameReadWriter}, nil
}

func errRendezvousTimeout(key string) error {
	return &rendezvousTimeoutError{key: key}
}

type rendezvousTimeoutError struct{ key string }

func (e *rendezvousTimeoutError) Error() string {
	return "comm: timed out resolving rendezvous key " + e.key
}

// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package cplcore

import (
	"errors"
	"fmt"
)

// Kind identifies which error taxon an error belongs to, so
// callers can branch on it with errors.As instead of string matching.
type Kind string

const (
	// KindConfiguration marks malformed configuration or contradictory options.
	KindConfiguration Kind = "configuration"
	// KindUsage marks a precondition violated by the caller (unknown mesh/data
	// ID, advance before initialize, action not performed).
	KindUsage Kind = "usage"
	// KindConnection marks a transport failure.
	KindConnection Kind = "connection"
	// KindProtocol marks a length or ordering mismatch between matched
	// send/receive calls.
	KindProtocol Kind = "protocol"
	// KindNumerical marks a singular QR, non-finite residual, or other
	// numerical breakdown beyond the configured filter's reach.
	KindNumerical Kind = "numerical"
	// KindNotImplemented marks a feature accepted syntactically but not
	// supported by this implementation.
	KindNotImplemented Kind = "not-implemented"
)

// Error is the common shape of every error this module returns to a
// solver-facing call site. It is fatal: the caller must not retry, only
// unwind to finalize().
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an *Error, the shared constructor for every package in
// this module so the error taxonomy has exactly one entry point.
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigurationError wraps err as a KindConfiguration Error.
func ConfigurationError(op string, err error) error { return newError(KindConfiguration, op, err) }

// UsageError wraps err as a KindUsage Error.
func UsageError(op string, err error) error { return newError(KindUsage, op, err) }

// ConnectionError wraps err as a KindConnection Error.
func ConnectionError(op string, err error) error { return newError(KindConnection, op, err) }

// ProtocolError wraps err as a KindProtocol Error.
func ProtocolError(op string, err error) error { return newError(KindProtocol, op, err) }

// NumericalError wraps err as a KindNumerical Error.
func NumericalError(op string, err error) error { return newError(KindNumerical, op, err) }

// NotImplementedError wraps err as a KindNotImplemented Error.
func NotImplementedError(op string, err error) error {
	return newError(KindNotImplemented, op, err)
}

// Sentinel errors shared across packages, one per violated invariant.
var (
	// ErrClosed names an operation attempted on a channel or scheme after
	// it has been closed/finalized. No code path in this module returns it:
	// a closed channel reports its transport's own error (io.ErrClosedPipe
	// for the in-process pipe).
	ErrClosed = errors.New("operation on a closed resource")
	// ErrAlreadyConnected names a second handshake attempt on an
	// already-connected CommChannel or M2N channel. No code path in this
	// module returns it.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected is returned by send/receive before a handshake completes.
	ErrNotConnected = errors.New("not connected")
	// ErrLengthMismatch is returned when a matched send/receive pair
	// disagree on the number of elements transferred.
	ErrLengthMismatch = errors.New("length mismatch between matched send and receive")
	// ErrActionNotPerformed is returned when advance() is called again
	// without the solver acknowledging a previously required action.
	ErrActionNotPerformed = errors.New("required action was not performed before the next advance")
	// ErrUnknownAction is returned by PerformedAction for a token the
	// scheme never required.
	ErrUnknownAction = errors.New("unknown or not-required action")
)

// Action is a named step the solver must perform between advance() calls.
type Action string

const (
	// ActionWriteInitialData requires the solver to write the t=0 data
	// before initializeData() exchanges it.
	ActionWriteInitialData Action = "write-initial-data"
	// ActionWriteIterationCheckpoint requires the solver to snapshot its
	// state before the next iteration or time step begins.
	ActionWriteIterationCheckpoint Action = "write-iteration-checkpoint"
	// ActionReadIterationCheckpoint requires the solver to roll back to
	// the last snapshot because the current iteration did not converge.
	ActionReadIterationCheckpoint Action = "read-iteration-checkpoint"
)

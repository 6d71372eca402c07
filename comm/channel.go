// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package comm implements CommChannel: an ordered, reliable
// byte stream between two named endpoints, carrying scalars, fixed-length
// arrays, and strings. Two realizations are provided: a direct, in-process
// realization standing in for "an intercommunicator between the two
// groups' local communicators" (Registry.Accept/Request, or
// DialDirect/ListenDirect over a known address), and a port/address-based
// realization for when no common communicator exists
// (AcceptPorts/RequestPorts, over TCP).
//
// Both realizations share one framing: every message is a small fixed-size
// header followed by its payload. Channels from Registry.Accept/Request and
// AcceptPorts/RequestPorts first exchange a name hello before any data
// flows; DialDirect/ListenDirect wrap the connection without one.
package comm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/precice-go/cplcore"
)

// Channel is the contract both CommChannel realizations satisfy.
type Channel interface {
	SendInt(v int) error
	ReceiveInt() (int, error)

	SendFloat64(v float64) error
	ReceiveFloat64() (float64, error)

	SendBool(v bool) error
	ReceiveBool() (bool, error)

	SendInts(v []int) error
	// ReceiveInts reads exactly n ints; a length mismatch with the sender's
	// SendInts is reported as ErrLengthMismatch (ProtocolError).
	ReceiveInts(n int) ([]int, error)

	SendFloat64s(v []float64) error
	ReceiveFloat64s(n int) ([]float64, error)

	SendString(v string) error
	ReceiveString() (string, error)

	// Close releases transport resources. Idempotent.
	Close() error
}

// wire tags, one byte each, identifying the payload that follows.
const (
	tagInt byte = iota + 1
	tagFloat64
	tagBool
	tagInts
	tagFloat64s
	tagString
)

// frameReadWriter implements the shared tagged-length-value framing both
// realizations send over their underlying io.ReadWriteCloser.
type frameReadWriter struct {
	rw     io.ReadWriteCloser
	closed bool
}

func newFrameReadWriter(rw io.ReadWriteCloser) *frameReadWriter {
	return &frameReadWriter{rw: rw}
}

func (f *frameReadWriter) writeHeader(tag byte, length uint32) error {
	var hdr [5]byte
	hdr[0] = tag
	binary.BigEndian.PutUint32(hdr[1:], length)
	_, err := f.rw.Write(hdr[:])
	return err
}

func (f *frameReadWriter) readHeader() (byte, uint32, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(f.rw, hdr[:]); err != nil {
		return 0, 0, err
	}
	return hdr[0], binary.BigEndian.Uint32(hdr[1:]), nil
}

func (f *frameReadWriter) expectTag(want byte) (uint32, error) {
	tag, length, err := f.readHeader()
	if err != nil {
		return 0, wrapConnErr("receive", err)
	}
	if tag != want {
		return 0, cplcore.ProtocolError("receive", fmt.Errorf("expected wire tag %d, got %d", want, tag))
	}
	return length, nil
}

func (f *frameReadWriter) SendInt(v int) error {
	if err := f.writeHeader(tagInt, 8); err != nil {
		return wrapConnErr("send int", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(int64(v)))
	_, err := f.rw.Write(buf[:])
	return wrapConnErr("send int", err)
}

func (f *frameReadWriter) ReceiveInt() (int, error) {
	length, err := f.expectTag(tagInt)
	if err != nil {
		return 0, err
	}
	if length != 8 {
		return 0, cplcore.ProtocolError("receive int", ErrBadLength)
	}
	var buf [8]byte
	if _, err := io.ReadFull(f.rw, buf[:]); err != nil {
		return 0, wrapConnErr("receive int", err)
	}
	return int(int64(binary.BigEndian.Uint64(buf[:]))), nil
}

func (f *frameReadWriter) SendFloat64(v float64) error {
	if err := f.writeHeader(tagFloat64, 8); err != nil {
		return wrapConnErr("send float64", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := f.rw.Write(buf[:])
	return wrapConnErr("send float64", err)
}

func (f *frameReadWriter) ReceiveFloat64() (float64, error) {
	length, err := f.expectTag(tagFloat64)
	if err != nil {
		return 0, err
	}
	if length != 8 {
		return 0, cplcore.ProtocolError("receive float64", ErrBadLength)
	}
	var buf [8]byte
	if _, err := io.ReadFull(f.rw, buf[:]); err != nil {
		return 0, wrapConnErr("receive float64", err)
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

func (f *frameReadWriter) SendBool(v bool) error {
	if err := f.writeHeader(tagBool, 1); err != nil {
		return wrapConnErr("send bool", err)
	}
	var b byte
	if v {
		b = 1
	}
	_, err := f.rw.Write([]byte{b})
	return wrapConnErr("send bool", err)
}

func (f *frameReadWriter) ReceiveBool() (bool, error) {
	length, err := f.expectTag(tagBool)
	if err != nil {
		return false, err
	}
	if length != 1 {
		return false, cplcore.ProtocolError("receive bool", ErrBadLength)
	}
	var buf [1]byte
	if _, err := io.ReadFull(f.rw, buf[:]); err != nil {
		return false, wrapConnErr("receive bool", err)
	}
	return buf[0] != 0, nil
}

func (f *frameReadWriter) SendInts(v []int) error {
	if err := f.writeHeader(tagInts, uint32(len(v)*8)); err != nil {
		return wrapConnErr("send ints", err)
	}
	buf := make([]byte, len(v)*8)
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[i*8:], uint64(int64(x)))
	}
	_, err := f.rw.Write(buf)
	return wrapConnErr("send ints", err)
}

func (f *frameReadWriter) ReceiveInts(n int) ([]int, error) {
	length, err := f.expectTag(tagInts)
	if err != nil {
		return nil, err
	}
	if int(length) != n*8 {
		return nil, cplcore.ProtocolError("receive ints", cplcore.ErrLengthMismatch)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		return nil, wrapConnErr("receive ints", err)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(int64(binary.BigEndian.Uint64(buf[i*8:])))
	}
	return out, nil
}

func (f *frameReadWriter) SendFloat64s(v []float64) error {
	if err := f.writeHeader(tagFloat64s, uint32(len(v)*8)); err != nil {
		return wrapConnErr("send float64s", err)
	}
	buf := make([]byte, len(v)*8)
	for i, x := range v {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	_, err := f.rw.Write(buf)
	return wrapConnErr("send float64s", err)
}

func (f *frameReadWriter) ReceiveFloat64s(n int) ([]float64, error) {
	length, err := f.expectTag(tagFloat64s)
	if err != nil {
		return nil, err
	}
	if int(length) != n*8 {
		return nil, cplcore.ProtocolError("receive float64s", cplcore.ErrLengthMismatch)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		return nil, wrapConnErr("receive float64s", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

func (f *frameReadWriter) SendString(v string) error {
	if err := f.writeHeader(tagString, uint32(len(v))); err != nil {
		return wrapConnErr("send string", err)
	}
	_, err := io.WriteString(f.rw, v)
	return wrapConnErr("send string", err)
}

func (f *frameReadWriter) ReceiveString() (string, error) {
	length, err := f.expectTag(tagString)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		return "", wrapConnErr("receive string", err)
	}
	return string(buf), nil
}

func (f *frameReadWriter) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.rw.Close()
}

// ErrBadLength is returned when a frame header advertises a length
// inconsistent with its tag's fixed width.
var ErrBadLength = errors.New("frame header length inconsistent with tag")

func wrapConnErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return cplcore.ConnectionError(op, err)
}

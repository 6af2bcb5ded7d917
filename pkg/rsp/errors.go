// Package rsp implements the GDB Remote Serial Protocol wire layer: hex
// codec, transport, packet framing, notification queueing, session
// negotiation, stop-reply parsing and the target I/O facades. It knows
// nothing about syscalls or tracees; see package trace for that.
package rsp

import "errors"

// ErrFatal is the sentinel wrapped by every transport- or protocol-fatal
// error. Callers that want to terminate the process on a fatal error
// (cmd/gdbtrace does; tests don't) can check errors.Is(err, ErrFatal).
var ErrFatal = errors.New("rsp: fatal protocol error")

// ErrReadFailed is returned by ReadMem when the stub replies with an
// E<hh> error, an odd-length reply, an oversized reply, or malformed hex.
var ErrReadFailed = errors.New("rsp: memory read failed")

// ErrUnsupported is returned when a feature the caller asked for was not
// negotiated (e.g. vCont when the stub never answered vCont?).
var ErrUnsupported = errors.New("rsp: feature not supported by stub")

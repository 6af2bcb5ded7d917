package rsp

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
)

// StopKind classifies a parsed stop-reply. At most one of
// {StopTrap, StopSyscallEntry, StopSyscallReturn} ever describes a single
// stop: StopSyscallEntry/StopSyscallReturn only arise from a T05 stop
// carrying a syscall_entry/syscall_return key, StopTrap covers every other
// T05.
type StopKind uint8

const (
	StopUnknown StopKind = iota
	StopError
	StopSignal
	StopTrap
	StopSyscallEntry
	StopSyscallReturn
	StopExited
	StopTerminated
)

// trapSignalCode is the GDB signal number (SIGTRAP) carried by both plain
// trap stops and syscall stops; the two are told apart by the presence of
// a syscall_entry/syscall_return key, not by the code itself.
const trapSignalCode = 5

// StopReply is the parsed form of an E/S/T/W/X reply.
type StopReply struct {
	Kind StopKind
	Code int
	PID  int
	TID  int
	Raw  []byte
}

// ParseStopReply dispatches on the reply's leading byte and decodes the
// rest without copying: field values are slices into payload.
func ParseStopReply(payload []byte) (StopReply, error) {
	if len(payload) == 0 {
		return StopReply{}, fmt.Errorf("%w: empty stop reply", ErrFatal)
	}

	reply := StopReply{Raw: payload}

	switch payload[0] {
	case 'E':
		reply.Kind = StopError
		reply.Code = int(DecodeHexN(payload[1:], 2))
		return reply, nil

	case 'W':
		reply.Kind = StopExited
		reply.Code = int(DecodeHexN(payload[1:], 2))
		scanFields(tail(payload), func(key, value []byte) {
			if bytes.Equal(key, []byte("process")) {
				reply.PID = int(DecodeHexStr(value))
			}
		})
		return reply, nil

	case 'X':
		reply.Kind = StopTerminated
		reply.Code = int(DecodeHexN(payload[1:], 2))
		scanFields(tail(payload), func(key, value []byte) {
			if bytes.Equal(key, []byte("process")) {
				reply.PID = int(DecodeHexStr(value))
			}
		})
		return reply, nil

	case 'S':
		reply.Kind = StopSignal
		reply.Code = int(DecodeHexN(payload[1:], 2))
		return reply, nil

	case 'T':
		reply.Code = int(DecodeHexN(payload[1:], 2))

		var sawEntry, sawReturn bool
		var scno int
		scanFields(tail(payload), func(key, value []byte) {
			switch {
			case bytes.Equal(key, []byte("thread")):
				pid, tid, hasPID := parseThreadID(value)
				reply.TID = tid
				if hasPID {
					reply.PID = pid
				}
			case bytes.Equal(key, []byte("syscall_entry")):
				sawEntry = true
				scno = int(DecodeHexStr(value))
			case bytes.Equal(key, []byte("syscall_return")):
				sawReturn = true
				scno = int(DecodeHexStr(value))
			}
		})

		switch {
		case sawEntry && reply.Code == trapSignalCode:
			reply.Kind = StopSyscallEntry
			reply.Code = scno
		case sawReturn && reply.Code == trapSignalCode:
			reply.Kind = StopSyscallReturn
			reply.Code = scno
		case reply.Code == trapSignalCode:
			reply.Kind = StopTrap
		default:
			reply.Kind = StopSignal
		}
		return reply, nil

	default:
		reply.Kind = StopUnknown
		return reply, fmt.Errorf("%w: unrecognized stop-reply type %q", ErrFatal, payload[:1])
	}
}

// tail returns the portion of an E/S/T/W/X payload following its
// three-byte "<type><hh>" prefix, or nil if there is none.
func tail(payload []byte) []byte {
	if len(payload) <= 3 {
		return nil
	}
	return payload[3:]
}

// scanFields walks the ';'-separated "key:value" segments of rest,
// invoking fn with slices into the original buffer. It never allocates
// and never mutates rest, unlike the reference's strtok_r-based splitter.
func scanFields(rest []byte, fn func(key, value []byte)) {
	for len(rest) > 0 {
		semi := bytes.IndexByte(rest, ';')
		var field []byte
		if semi < 0 {
			field, rest = rest, nil
		} else {
			field, rest = rest[:semi], rest[semi+1:]
		}
		if len(field) == 0 {
			continue
		}
		colon := bytes.IndexByte(field, ':')
		if colon < 0 {
			continue
		}
		fn(field[:colon], field[colon+1:])
	}
}

// parseThreadID decodes a thread-id field value, which is either a plain
// hex tid or, under the multiprocess extension, "p<pid>.<tid>".
func parseThreadID(value []byte) (pid, tid int, hasPID bool) {
	if len(value) > 0 && value[0] == 'p' {
		rest := value[1:]
		dot := bytes.IndexByte(rest, '.')
		if dot < 0 {
			return int(DecodeHexStr(rest)), 0, true
		}
		return int(DecodeHexStr(rest[:dot])), int(DecodeHexStr(rest[dot+1:])), true
	}
	return 0, int(DecodeHexStr(value)), false
}

// RecvStop reads the next stop reply. In non-stop mode it first pops a
// queued notification (parked there by Connection.Recv's redirection
// rule) or blocks for one directly, then runs the vStopped dialogue,
// queuing every intermediate reply as a notification until the stub
// signals the dialogue is over with OK. The first packet popped or read is
// parsed as the stop reply; non-T packets are not skipped.
func (s *Session) RecvStop(ctx context.Context) (StopReply, error) {
	conn := s.Conn

	var raw []byte
	if conn.NonStopEnabled {
		if queued, ok := conn.Notifications.Pop(); ok {
			raw = queued
			atomic.AddInt64(&conn.stats.notificationsPopped, 1)
		} else {
			var err error
			raw, err = conn.Recv(true)
			if err != nil {
				return StopReply{}, err
			}
		}
	} else {
		var err error
		raw, err = conn.Recv(true)
		if err != nil {
			return StopReply{}, err
		}
	}

	reply, err := ParseStopReply(raw)
	if err != nil {
		return StopReply{}, err
	}

	if conn.NonStopEnabled {
		if err := s.drainVStopped(ctx); err != nil {
			return StopReply{}, err
		}
	}

	return reply, nil
}

// drainVStopped repeatedly asks the stub for any further pending stop,
// queuing each one as a notification for a later RecvStop to pop, until the
// stub answers OK to signal the dialogue is over.
func (s *Session) drainVStopped(ctx context.Context) error {
	conn := s.Conn
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := conn.Send([]byte("vStopped")); err != nil {
			return err
		}
		reply, err := conn.Recv(true)
		if err != nil {
			return err
		}
		if string(reply) == "OK" {
			return nil
		}
		conn.Notifications.Push(reply)
	}
}

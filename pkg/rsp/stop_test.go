package rsp

import (
	"bufio"
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseStopReplyError(t *testing.T) {
	reply, err := ParseStopReply([]byte("E01"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopError)
	assert.Equal(t, reply.Code, 1)
}

func TestParseStopReplyExited(t *testing.T) {
	reply, err := ParseStopReply([]byte("W00;process:4d2"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopExited)
	assert.Equal(t, reply.Code, 0)
	assert.Equal(t, reply.PID, 0x4d2)
}

func TestParseStopReplyTerminated(t *testing.T) {
	reply, err := ParseStopReply([]byte("X0b;process:1"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopTerminated)
	assert.Equal(t, reply.Code, 0x0b)
	assert.Equal(t, reply.PID, 1)
}

func TestParseStopReplyPlainSignal(t *testing.T) {
	reply, err := ParseStopReply([]byte("S11"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopSignal)
	assert.Equal(t, reply.Code, 0x11)
}

func TestParseStopReplyTrap(t *testing.T) {
	reply, err := ParseStopReply([]byte("T05thread:3;"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopTrap)
	assert.Equal(t, reply.TID, 3)
	assert.Equal(t, reply.PID, 0)
}

func TestParseStopReplySyscallEntryMultiprocess(t *testing.T) {
	reply, err := ParseStopReply([]byte("T05syscall_entry:3b;thread:p1.7;"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopSyscallEntry)
	assert.Equal(t, reply.PID, 1)
	assert.Equal(t, reply.TID, 7)
}

func TestParseStopReplySyscallReturn(t *testing.T) {
	reply, err := ParseStopReply([]byte("T05syscall_return:3b;thread:p1.7;"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopSyscallReturn)
}

func TestParseStopReplyNonTrapSignal(t *testing.T) {
	reply, err := ParseStopReply([]byte("T0bthread:1;"))
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopSignal)
	assert.Equal(t, reply.Code, 0x0b)
}

func TestParseStopReplyEmptyIsFatal(t *testing.T) {
	_, err := ParseStopReply(nil)
	assert.ErrorContains(t, err, "empty stop reply")
}

func TestParseStopReplyUnknownType(t *testing.T) {
	_, err := ParseStopReply([]byte("Z00"))
	assert.ErrorContains(t, err, "unrecognized stop-reply type")
}

func TestRecvStopAllStopBlocksOnWire(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	go func() {
		assert.NilError(t, sendFramedReply(raw, "T05thread:2;"))
	}()

	reply, err := sess.RecvStop(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopTrap)
	assert.Equal(t, reply.TID, 2)
}

func TestRecvStopNonStopDrainsVStopped(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	conn.NonStopEnabled = true
	sess := NewSession(conn)

	// Prime the queue directly, as Connection.Recv's redirection would.
	conn.Notifications.Push([]byte("T05thread:2;"))

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "vStopped")
		assert.NilError(t, sendFramedReply(raw, "T05thread:3;")) // queued, not discarded

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vStopped")
		assert.NilError(t, sendFramedReply(raw, "OK")) // dialogue over
	}()

	reply, err := sess.RecvStop(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, reply.Kind, StopTrap)
	assert.Equal(t, reply.TID, 2)
	assert.Equal(t, conn.Notifications.Len(), 1)
}

func TestRecvStopNonStopContextCancelled(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	conn.NonStopEnabled = true
	sess := NewSession(conn)

	conn.Notifications.Push([]byte("T05thread:2;"))

	// Cancelled up front: drainVStopped's loop-top check fires before it
	// ever touches the wire, so no stub interaction is needed here.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sess.RecvStop(ctx)
	assert.ErrorContains(t, err, "context canceled")
}

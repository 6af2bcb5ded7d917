package rsp

import (
	"bufio"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
)

func discardLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(nilWriter{})
	return logrus.NewEntry(log)
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNegotiateHappyPath(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QStartNoAckMode")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "qSupported:multiprocess+")
		assert.NilError(t, sendFramedReplyNoAck(raw, "PacketSize=1000;multiprocess+"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "!")
		assert.NilError(t, sendFramedReplyNoAck(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vCont?")
		assert.NilError(t, sendFramedReplyNoAck(raw, "vCont;c;C;s;S"))
	}()

	err := sess.Negotiate(discardLogger())
	assert.NilError(t, err)
	assert.Assert(t, sess.Multiprocess)
	assert.Assert(t, sess.VContSupported)
}

func TestNegotiateSoftFailsWarnButContinue(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QStartNoAckMode")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "qSupported:multiprocess+")
		// No multiprocess+ feature advertised.
		assert.NilError(t, sendFramedReplyNoAck(raw, "PacketSize=1000"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "!")
		assert.NilError(t, sendFramedReplyNoAck(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vCont?")
		// Stub doesn't understand vCont at all.
		assert.NilError(t, sendFramedReplyNoAck(raw, ""))
	}()

	err := sess.Negotiate(discardLogger())
	assert.NilError(t, err)
	assert.Assert(t, !sess.Multiprocess)
	assert.Assert(t, !sess.VContSupported)
}

func TestNegotiateExtendedModeRejectedIsFatal(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QStartNoAckMode")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "qSupported:multiprocess+")
		assert.NilError(t, sendFramedReplyNoAck(raw, "multiprocess+"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "!")
		assert.NilError(t, sendFramedReplyNoAck(raw, ""))
	}()

	err := sess.Negotiate(discardLogger())
	assert.ErrorContains(t, err, "extended mode rejected")
	assert.Assert(t, errors.Is(err, ErrFatal))
}

func TestCatchSyscallsRejectedIsFatal(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QCatchSyscalls:1")
		assert.NilError(t, sendFramedReply(raw, "E01"))
	}()

	err := sess.CatchSyscalls()
	assert.ErrorContains(t, err, "QCatchSyscalls rejected")
}

func TestNegotiateNonStopAttachAccepted(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QNonStop:1")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vCont;t:p4d2.-1")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vAttach;4d2")
		assert.NilError(t, sendFramedReply(raw, "OK"))
	}()

	nonStop, err := sess.NegotiateNonStopAttach(1234)
	assert.NilError(t, err)
	assert.Assert(t, nonStop)
	assert.Assert(t, conn.NonStopEnabled)
}

func TestNegotiateNonStopAttachVContTFallsBackToAllStop(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QNonStop:1")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vCont;t:p4d2.-1")
		assert.NilError(t, sendFramedReply(raw, "E01")) // stub can't thread-stop this process

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "QNonStop:0")
		assert.NilError(t, sendFramedReply(raw, "OK"))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vAttach;4d2")
		assert.NilError(t, sendFramedReply(raw, "T05thread:p4d2.4d2;"))
	}()

	nonStop, err := sess.NegotiateNonStopAttach(1234)
	assert.NilError(t, err)
	assert.Assert(t, !nonStop)
	assert.Assert(t, !conn.NonStopEnabled)
}

func TestNegotiateNonStopAttachFallsBackToAllStop(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QNonStop:1")
		assert.NilError(t, sendFramedReply(raw, "")) // unsupported

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vAttach;4d2")
		assert.NilError(t, sendFramedReply(raw, "T05thread:p4d2.4d2;"))
	}()

	nonStop, err := sess.NegotiateNonStopAttach(1234)
	assert.NilError(t, err)
	assert.Assert(t, !nonStop)
	assert.Assert(t, !conn.NonStopEnabled)
}

func TestNegotiateNonStopAttachRejected(t *testing.T) {
	conn, raw := testPipe(t)
	defer conn.Close()
	defer raw.Close()
	sess := NewSession(conn)

	r := bufio.NewReader(raw)
	go func() {
		got := readRawFrame(t, r, raw)
		assert.Equal(t, got, "QNonStop:1")
		assert.NilError(t, sendFramedReply(raw, ""))

		got = readRawFrame(t, r, raw)
		assert.Equal(t, got, "vAttach;4d2")
		assert.NilError(t, sendFramedReply(raw, "E01"))
	}()

	_, err := sess.NegotiateNonStopAttach(1234)
	assert.ErrorContains(t, err, "vAttach to pid 1234 rejected")
}

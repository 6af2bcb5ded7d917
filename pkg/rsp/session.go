package rsp

import (
	"fmt"
	"strings"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Session wraps a Connection with the capability flags negotiated over it.
// Exactly one Session owns a Connection; nothing below this layer is
// shared between sessions.
type Session struct {
	id   xid.ID
	Conn *Connection

	Multiprocess   bool
	VContSupported bool
}

// NewSession mints a session over an already-dialed connection.
func NewSession(conn *Connection) *Session {
	return &Session{id: xid.New(), Conn: conn}
}

// ID returns the session's unique identifier, included in every log line
// and exposed as a Prometheus label so concurrent sessions are
// distinguishable.
func (s *Session) ID() string { return s.id.String() }

// Negotiate runs the startup capability dance: disable acks, advertise
// multiprocess support, enter extended mode, and probe vCont support. Each
// step is best-effort except entering extended mode, which is fatal on
// rejection — a stub that refuses '!' cannot be driven by the rest of this
// package.
func (s *Session) Negotiate(logger *logrus.Entry) error {
	logger = logger.WithField("session", s.ID())

	if _, err := s.Conn.StartNoAck(); err != nil {
		return err
	}

	if err := s.Conn.Send([]byte("qSupported:multiprocess+")); err != nil {
		return err
	}
	reply, err := s.Conn.Recv(false)
	if err != nil {
		return err
	}
	for _, feature := range strings.Split(string(reply), ";") {
		if feature == "multiprocess+" {
			s.Multiprocess = true
		}
	}
	if !s.Multiprocess {
		logger.Warn("rsp: stub did not advertise multiprocess support")
	}

	if err := s.Conn.Send([]byte("!")); err != nil {
		return err
	}
	reply, err = s.Conn.Recv(false)
	if err != nil {
		return err
	}
	if string(reply) != "OK" {
		return fmt.Errorf("%w: extended mode rejected: %q", ErrFatal, reply)
	}

	if err := s.Conn.Send([]byte("vCont?")); err != nil {
		return err
	}
	reply, err = s.Conn.Recv(false)
	if err != nil {
		return err
	}
	if strings.HasPrefix(string(reply), "vCont") {
		s.VContSupported = true
	} else {
		logger.Warn("rsp: stub does not support vCont; falling back to single-thread continuation")
	}

	return nil
}

// CatchSyscalls asks the stub to report syscall entry/exit as T05 stops.
// Rejection is fatal: without this, the control loop never sees a
// syscall stop to act on.
func (s *Session) CatchSyscalls() error {
	if err := s.Conn.Send([]byte("QCatchSyscalls:1")); err != nil {
		return err
	}
	reply, err := s.Conn.Recv(false)
	if err != nil {
		return err
	}
	if string(reply) != "OK" {
		return fmt.Errorf("%w: QCatchSyscalls rejected: %q", ErrFatal, reply)
	}
	return nil
}

// NegotiateNonStopAttach implements the attach-time dance: try QNonStop:1
// first so the subsequent vAttach doesn't block the connection while the
// tracee is stopped, falling back to a plain all-stop vAttach when the
// stub doesn't support non-stop mode. It reports whether non-stop mode
// ended up enabled; the caller still needs to read the attach stop-reply
// either way (a synchronous OK/stop-reply in all-stop mode, an async
// %Stop notification read through RecvStop in non-stop mode).
func (s *Session) NegotiateNonStopAttach(pid int) (bool, error) {
	if err := s.Conn.Send([]byte("QNonStop:1")); err != nil {
		return false, err
	}
	reply, err := s.Conn.Recv(false)
	if err != nil {
		return false, err
	}
	nonStop := string(reply) == "OK"

	if nonStop {
		if err := s.Conn.Send([]byte(fmt.Sprintf("vCont;t:p%x.-1", pid))); err != nil {
			return false, err
		}
		reply, err = s.Conn.Recv(false)
		if err != nil {
			return false, err
		}
		if string(reply) != "OK" {
			if err := s.Conn.Send([]byte("QNonStop:0")); err != nil {
				return false, err
			}
			if _, err := s.Conn.Recv(false); err != nil {
				return false, err
			}
			nonStop = false
		}
	}
	s.Conn.NonStopEnabled = nonStop

	if err := s.Conn.Send([]byte(fmt.Sprintf("vAttach;%x", pid))); err != nil {
		return false, err
	}
	reply, err = s.Conn.Recv(nonStop)
	if err != nil {
		return false, err
	}
	if len(reply) == 0 {
		return false, fmt.Errorf("%w: vAttach: empty reply", ErrFatal)
	}
	if reply[0] == 'E' {
		return false, fmt.Errorf("%w: vAttach to pid %d rejected: %q", ErrFatal, pid, reply)
	}

	return nonStop, nil
}

// Package rsptest provides an in-memory stub endpoint for exercising
// pkg/rsp and pkg/trace without a real gdbserver: a net.Pipe-backed
// Connection on one side, and a tiny scripted-reply stub on the other.
package rsptest

import (
	"bufio"
	"net"

	"github.com/simeonmiteff/gdbtrace/pkg/rsp"
)

// Pipe returns an *rsp.Connection backed by one end of an in-memory
// net.Pipe, and the raw net.Conn for the other end so a test can act as
// the stub: read commands, write replies, by hand.
func Pipe() (*rsp.Connection, net.Conn) {
	clientSide, serverSide := net.Pipe()

	// net.Pipe is unbuffered and fully synchronous, so NewConnection's
	// reset-ack write would deadlock waiting for a reader; drain it on a
	// separate goroutine while construction is still in flight.
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		_, _ = serverSide.Read(buf)
		close(drained)
	}()

	conn, err := rsp.NewConnection(clientSide)
	if err != nil {
		panic(err)
	}
	<-drained
	return conn, serverSide
}

// Stub is a minimal scripted gdbserver-side endpoint: Expect/Reply pairs
// driven by a test, running on its own goroutine against the server side
// of a Pipe().
type Stub struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewStub wraps the server-side net.Conn of a Pipe() (after its reset
// ack has already been drained by Pipe()) for scripted request/reply use.
func NewStub(conn net.Conn) *Stub {
	return &Stub{conn: conn, r: bufio.NewReader(conn)}
}

// ReadPacket reads one raw "$payload#cc" frame, skipping any bare ack
// bytes before it, and returns payload with the framing stripped; it also
// sends the '+' ack a real stub would, since acks default on.
func (s *Stub) ReadPacket() (string, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b != '$' {
			continue
		}
		var payload []byte
		for {
			c, err := s.r.ReadByte()
			if err != nil {
				return "", err
			}
			if c == '#' {
				if _, err := s.r.Discard(2); err != nil {
					return "", err
				}
				if _, err := s.conn.Write([]byte{'+'}); err != nil {
					return "", err
				}
				return string(payload), nil
			}
			payload = append(payload, c)
		}
	}
}

// SendReply frames and writes a reply packet, waiting for its ack.
func (s *Stub) SendReply(payload string) error {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	hi, lo := "0123456789abcdef"[sum>>4], "0123456789abcdef"[sum&0xf]
	frame := "$" + payload + "#" + string(hi) + string(lo)
	if _, err := s.conn.Write([]byte(frame)); err != nil {
		return err
	}
	_, err := s.r.ReadByte() // ack
	return err
}

// Close closes the stub's side of the pipe.
func (s *Stub) Close() error {
	return s.conn.Close()
}

package rsp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Connection owns two independent buffered half-duplex streams over one
// underlying bidirectional channel, plus the ack/non-stop flags that the
// packet layer consults on every send/recv. It is the sole owner of the
// underlying descriptor(s); Close tears both directions down.
type Connection struct {
	id     xid.ID
	in     *bufio.Reader
	out    *bufio.Writer
	closer io.Closer

	AckEnabled     bool
	NonStopEnabled bool

	Notifications *NotificationQueue

	stats Stats
}

// ID returns the connection's unique identifier, minted once at dial time.
// It has no protocol meaning; it exists so logs and metrics from multiple
// concurrently-open sessions (tests mainly; the reference tracer only ever
// opens one) can be told apart.
func (c *Connection) ID() string { return c.id.String() }

// NewConnection wraps an already-open bidirectional stream (e.g. a
// net.Pipe() end, for tests) as a Connection, the same way the Dial*
// constructors do internally. It does not dup anything, since the caller
// retains ownership of rw either way.
func NewConnection(rw io.ReadWriteCloser) (*Connection, error) {
	return newConnection(rw, rw, rw)
}

func newConnection(r io.Reader, w io.Writer, closer io.Closer) (*Connection, error) {
	c := &Connection{
		id:            xid.New(),
		in:            bufio.NewReader(r),
		out:           bufio.NewWriter(w),
		closer:        closer,
		AckEnabled:    true,
		Notifications: newNotificationQueue(),
	}
	// Reset any stale line state on the peer by acking whatever it thinks
	// it last sent us.
	if err := c.writeRaw([]byte{'+'}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) writeRaw(b []byte) error {
	if _, err := c.out.Write(b); err != nil {
		return fmt.Errorf("%w: write: %v", ErrFatal, err)
	}
	if err := c.out.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrFatal, err)
	}
	return nil
}

// Close closes both directions of the connection.
func (c *Connection) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

type multiCloser struct {
	closers []io.Closer
}

func (m multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newConnectionFromFD duplicates fd so the read and write sides of the
// connection use independent file descriptors, mirroring the reference's
// dup(2)-then-fdopen(rb)/fdopen(wb) split.
func newConnectionFromFD(fd int, label string) (*Connection, error) {
	fd2, err := unix.Dup(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: dup: %v", ErrFatal, err)
	}
	r := os.NewFile(uintptr(fd), label+"#r")
	w := os.NewFile(uintptr(fd2), label+"#w")
	return newConnection(r, w, multiCloser{[]io.Closer{r, w}})
}

// DialTCP resolves host:service (IPv4 only — the reference gdbserver
// protocol client does not support IPv6 either) and connects to the first
// address that accepts a connection.
func DialTCP(host, service string) (*Connection, error) {
	port, err := net.LookupPort("tcp4", service)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve service %q: %v", ErrFatal, service, err)
	}

	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve host %q: %v", ErrFatal, host, err)
	}

	var lastErr error
	for _, ip := range ips {
		conn, dialErr := net.DialTCP("tcp4", nil, &net.TCPAddr{IP: ip, Port: port})
		if dialErr != nil {
			lastErr = dialErr
			continue
		}
		if fd := netfd.GetFdFromConn(conn); fd >= 0 {
			logrus.WithFields(logrus.Fields{"fd": fd, "addr": conn.RemoteAddr()}).
				Debug("rsp: tcp connection established")
		}
		instrumented := wrapTCPConn(conn, logrus.WithField("addr", conn.RemoteAddr()))
		return newConnection(instrumented, instrumented, instrumented)
	}
	return nil, fmt.Errorf("%w: connect to %s:%s: %v", ErrFatal, host, service, lastErr)
}

// DialPath opens path for read+write and uses it as a bidirectional
// character-device/pipe-like handle.
func DialPath(path string) (*Connection, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFatal, path, err)
	}
	return newConnectionFromFD(int(f.Fd()), path)
}

var ignoreSIGPIPEOnce sync.Once

// DialCommand spawns `/bin/sh -c command` with a socketpair wired to both
// its stdin and stdout (stderr is inherited), and speaks RSP over our end
// of the pair.
func DialCommand(command string) (*Connection, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socketpair: %v", ErrFatal, err)
	}
	ours, theirs := fds[0], fds[1]

	childFile := os.NewFile(uintptr(theirs), "gdbtrace-child")
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = childFile
	cmd.Stdout = childFile
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = unix.Close(ours)
		_ = childFile.Close()
		return nil, fmt.Errorf("%w: spawn %q: %v", ErrFatal, command, err)
	}
	// Close our copy of the child's end; the child keeps its own.
	_ = childFile.Close()

	ignoreSIGPIPEOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})

	return newConnectionFromFD(ours, "gdbtrace-cmd")
}

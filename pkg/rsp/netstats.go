package rsp

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gdbtrace/pkg/tcpinfo"
)

// instrumentedConn wraps a TCP net.Conn to track byte counts and timing the
// same way the connection wrapper around it always has, plus a tcp_info
// snapshot taken at open and close so a degraded RSP link (retransmits,
// high RTT) shows up in the log instead of just looking like a slow
// tracee. It's pure diagnostics: nothing here changes protocol behavior.
type instrumentedConn struct {
	net.Conn
	log *logrus.Entry

	openedAt, closedAt     time.Time
	rxBytes, txBytes       int64
	supportsTCPInfo        bool
	openedInfo, closedInfo *tcpinfo.Info
}

// wrapTCPConn instruments conn if it's a *net.TCPConn, logging an opened
// tcp_info snapshot immediately and a closed one (plus any retransmit
// warnings) when the connection is torn down. Non-TCP conns (or platforms
// tcpinfo doesn't support) pass through unwrapped.
func wrapTCPConn(conn net.Conn, log *logrus.Entry) net.Conn {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok || !tcpinfo.Supported() {
		return conn
	}
	w := &instrumentedConn{
		Conn:            conn,
		log:             log,
		openedAt:        time.Now(),
		supportsTCPInfo: true,
	}
	w.openedInfo = w.snapshot(tcpConn)
	if w.openedInfo != nil {
		log.WithField("rtt", w.openedInfo.RTT).Debug("rsp: tcp connection opened")
	}
	return w
}

func (w *instrumentedConn) snapshot(tcpConn *net.TCPConn) *tcpinfo.Info {
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return nil
	}
	var sysInfo *tcpinfo.SysInfo
	if err := rawConn.Control(func(fd uintptr) {
		sysInfo, err = tcpinfo.GetTCPInfo(fd)
	}); err != nil || sysInfo == nil {
		return nil
	}
	return sysInfo.ToInfo()
}

func (w *instrumentedConn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	w.rxBytes += int64(n)
	return n, err
}

func (w *instrumentedConn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	w.txBytes += int64(n)
	return n, err
}

func (w *instrumentedConn) Close() error {
	w.closedAt = time.Now()
	if tcpConn, ok := w.Conn.(*net.TCPConn); ok {
		w.closedInfo = w.snapshot(tcpConn)
	}
	fields := logrus.Fields{
		"duration": w.closedAt.Sub(w.openedAt),
		"rx_bytes": w.rxBytes,
		"tx_bytes": w.txBytes,
	}
	if w.closedInfo != nil {
		fields["retransmits"] = w.closedInfo.Sys.Warnings()
	}
	w.log.WithFields(fields).Debug("rsp: tcp connection closed")
	return w.Conn.Close()
}

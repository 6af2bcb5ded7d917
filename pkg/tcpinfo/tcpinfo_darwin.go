//go:build darwin

package tcpinfo

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// SysInfo is the subset of Darwin's tcp_connection_info actually needed for
// RSP link diagnostics, fetched via golang.org/x/sys/unix.
type SysInfo struct {
	RTT         time.Duration
	RTTVar      time.Duration
	Retransmits uint64
}

func (s *SysInfo) ToInfo() *Info {
	return &Info{
		RTT:         s.RTT,
		Retransmits: s.Retransmits,
		Sys:         s,
	}
}

func (s *SysInfo) Warnings() []string {
	var warns []string
	if s.Retransmits > 0 {
		warns = append(warns, "retransPackets="+strconv.FormatUint(s.Retransmits, 10))
	}
	return warns
}

// GetTCPInfo fetches TCP_CONNECTION_INFO for fd via getsockopt. Darwin
// reports RTT in milliseconds, not microseconds like Linux.
func GetTCPInfo(fd uintptr) (*SysInfo, error) {
	info, err := unix.GetsockoptTCPConnectionInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_CONNECTION_INFO)
	if err != nil {
		return nil, err
	}
	return &SysInfo{
		RTT:         time.Duration(info.Srtt) * time.Millisecond,
		RTTVar:      time.Duration(info.Rttvar) * time.Millisecond,
		Retransmits: info.Txretransmitpackets,
	}, nil
}

func Supported() bool {
	return true
}

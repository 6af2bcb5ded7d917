//go:build linux

package tcpinfo

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// SysInfo is the subset of Linux's tcp_info actually needed for RSP link
// diagnostics, fetched via golang.org/x/sys/unix rather than a hand-rolled
// struct overlay: that package already carries the correct field layout
// for every architecture/kernel combination this binary targets.
type SysInfo struct {
	RTT           time.Duration
	RTTVar        time.Duration
	Retransmits   uint64
	CurRetransCnt uint8
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
		warns = append(warns, "retransTotal="+strconv.FormatUint(s.Retransmits, 10))
	}
	if s.CurRetransCnt > 0 {
		warns = append(warns, "retransCurrent="+strconv.FormatUint(uint64(s.CurRetransCnt), 10))
	}
	return warns
}

// GetTCPInfo fetches TCP_INFO for fd via getsockopt and reduces it to the
// RTT/retransmit fields this package exposes.
func GetTCPInfo(fd uintptr) (*SysInfo, error) {
	info, err := unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, err
	}
	return &SysInfo{
		RTT:           time.Duration(info.Rtt) * time.Microsecond,
		RTTVar:        time.Duration(info.Rttvar) * time.Microsecond,
		Retransmits:   uint64(info.Total_retrans),
		CurRetransCnt: info.Retransmits,
	}, nil
}

func Supported() bool {
	return true
}

//go:build windows

package tcpinfo

import (
	"strconv"
	"syscall"
	"time"
	"unsafe"
)

// sioTCPInfo is the SIO_TCP_INFO ioctl code, usable without admin rights
// unlike GetPerTcpConnectionEStats:
// https://learn.microsoft.com/en-us/windows/win32/api/iphlpapi/nf-iphlpapi-getpertcpconnectionestats
const sioTCPInfo = syscall.IOC_INOUT | syscall.IOC_VENDOR | 39

// rawInfoV0 mirrors only the leading fields of Windows' _TCP_INFO_v0
// (https://learn.microsoft.com/en-us/windows/win32/api/mstcpip/ns-mstcpip-tcp_info_v0)
// this package needs: RTT and a retransmit count, not the full struct.
type rawInfoV0 struct {
	State             uint32
	Mss               uint32
	ConnectionTimeMs  uint64
	TimestampsEnabled bool
	_                 [3]byte // compiler padding before the next uint32
	RttUs             uint32
	MinRttUs          uint32
	BytesInFlight     uint32
	Cwnd              uint32
	SndWnd            uint32
	RcvWnd            uint32
	RcvBuf            uint32
	BytesOut          uint64
	BytesIn           uint64
	BytesReordered    uint32
	BytesRetrans      uint32
}

// SysInfo is the subset of Windows' TCP_INFO_v0 actually needed for RSP
// link diagnostics.
type SysInfo struct {
	RTT         time.Duration
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
		warns = append(warns, "retransBytes="+strconv.FormatUint(s.Retransmits, 10))
	}
	return warns
}

// GetTCPInfo issues the SIO_TCP_INFO ioctl on fd and reduces the v0 reply
// to the RTT/retransmit fields this package exposes. A version field of 0
// is always requested; newer TCP_INFO versions add fields this package
// doesn't read.
func GetTCPInfo(fd uintptr) (*SysInfo, error) {
	var version uint32
	var info rawInfoV0
	var bytesReturned uint32

	err := syscall.WSAIoctl(
		syscall.Handle(fd),
		sioTCPInfo,
		(*byte)(unsafe.Pointer(&version)),
		uint32(unsafe.Sizeof(version)),
		(*byte)(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		&bytesReturned,
		nil,
		0,
	)
	if err != nil {
		return nil, err
	}

	return &SysInfo{
		RTT:         time.Duration(info.RttUs) * time.Microsecond,
		Retransmits: uint64(info.BytesRetrans),
	}, nil
}

func Supported() bool {
	return true
}

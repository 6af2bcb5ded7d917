//go:build !(linux || darwin || windows)

package tcpinfo

import (
	"fmt"
	"runtime"
)

// SysInfo is empty on platforms this package doesn't instrument.
type SysInfo struct{}

func (s *SysInfo) ToInfo() *Info {
	return &Info{Sys: s}
}

func (s *SysInfo) Warnings() []string {
	return nil
}

func GetTCPInfo(fd uintptr) (*SysInfo, error) {
	return nil, fmt.Errorf("%s is unsupported", runtime.GOOS)
}

func Supported() bool {
	return false
}

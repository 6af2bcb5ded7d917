//go:build linux

package hostsig

import (
	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

// extendedRealtimeKernel is the first kernel version whose _NSIG wires
// through the full REALTIME_64..127 band; older kernels only populate
// REALTIME_32..63.
var extendedRealtimeKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 32}

// DetectExtendedRealtime reports whether the local kernel is new enough
// to support the full real-time signal range. This is advisory only —
// it never changes Map.ToHost's behavior, only what cmd/gdbtrace logs at
// startup — so on any failure to read the local version it warns
// and reports false rather than failing session init.
func DetectExtendedRealtime() bool {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		logrus.WithError(err).Warn("hostsig: could not determine kernel version; assuming no extended real-time signal range")
		return false
	}
	return kernel.CompareKernelVersion(*v, extendedRealtimeKernel) >= 0
}

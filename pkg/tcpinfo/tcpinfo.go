package tcpinfo

import "time"

// Info is the cross-platform tcp_info summary used for RSP link
// diagnostics: a degraded round-trip time or pending retransmits on the
// connection underneath the debugger session show up in the log instead of
// just looking like a stalled tracee. Sys carries the platform-specific
// detail behind Warnings(), for callers that want more than RTT/Retransmits.
type Info struct {
	RTT         time.Duration // smoothed round-trip time
	Retransmits uint64        // retransmitted since connect: segments (Linux), packets (Darwin), bytes (Windows)
	Sys         *SysInfo
}

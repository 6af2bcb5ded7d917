package rsp

import "sync/atomic"

// Stats holds counters incremented by the packet layer as it runs. The
// trace loop and the transport are single-threaded (see package docs), but
// a Prometheus scrape can read these concurrently with that loop, so every
// field is accessed through sync/atomic rather than behind a mutex.
type Stats struct {
	packetsSent         int64
	packetsReceived     int64
	acksReceived        int64
	nacksReceived       int64
	nacksSent           int64
	checksumMismatches  int64
	notificationsQueued int64
	notificationsPopped int64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to hand to a
// Prometheus collector without holding any lock on the Connection.
type StatsSnapshot struct {
	PacketsSent         int64
	PacketsReceived     int64
	AcksReceived        int64
	NacksReceived       int64
	NacksSent           int64
	ChecksumMismatches  int64
	NotificationsQueued int64
	NotificationsPopped int64
}

// Stats returns a snapshot of this connection's packet-layer counters.
func (c *Connection) Stats() StatsSnapshot {
	return StatsSnapshot{
		PacketsSent:         atomic.LoadInt64(&c.stats.packetsSent),
		PacketsReceived:     atomic.LoadInt64(&c.stats.packetsReceived),
		AcksReceived:        atomic.LoadInt64(&c.stats.acksReceived),
		NacksReceived:       atomic.LoadInt64(&c.stats.nacksReceived),
		NacksSent:           atomic.LoadInt64(&c.stats.nacksSent),
		ChecksumMismatches:  atomic.LoadInt64(&c.stats.checksumMismatches),
		NotificationsQueued: atomic.LoadInt64(&c.stats.notificationsQueued),
		NotificationsPopped: atomic.LoadInt64(&c.stats.notificationsPopped),
	}
}

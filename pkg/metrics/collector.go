// Package metrics exposes a Prometheus collector over the session-level
// counters tracked by pkg/rsp and the thread count tracked by pkg/trace.
// Not named in the distilled specification; carried because the teacher
// package always pairs its core type with a Prometheus collector.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/simeonmiteff/gdbtrace/pkg/rsp"
)

// sessionSource is what a tracked session supplies to a scrape: its
// packet-layer counters and the number of threads pkg/trace currently
// tracks for it.
type sessionSource struct {
	stats       func() rsp.StatsSnapshot
	threadCount func() int
}

// Collector exposes one session's counters per label set. Collect runs
// concurrently with the trace loop (a scrape can land mid-trace), so
// every access to sessions is behind mu — the one place in this repo
// concurrent access is real, matching how the teacher's
// TCPInfoCollector guards its conns map.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]sessionSource

	packetsSent         *prometheus.Desc
	packetsReceived     *prometheus.Desc
	acksReceived        *prometheus.Desc
	nacksReceived       *prometheus.Desc
	nacksSent           *prometheus.Desc
	checksumMismatches  *prometheus.Desc
	notificationsQueued *prometheus.Desc
	notificationsPopped *prometheus.Desc
	trackedThreads      *prometheus.Desc
}

// NewCollector builds an empty collector. Register it with a
// prometheus.Registerer and call Add for each session to track.
func NewCollector() *Collector {
	labels := []string{"session"}
	return &Collector{
		sessions:            make(map[string]sessionSource),
		packetsSent:         prometheus.NewDesc("gdbtrace_packets_sent_total", "RSP packets sent.", labels, nil),
		packetsReceived:     prometheus.NewDesc("gdbtrace_packets_received_total", "RSP packets received.", labels, nil),
		acksReceived:        prometheus.NewDesc("gdbtrace_acks_received_total", "RSP '+' acks received.", labels, nil),
		nacksReceived:       prometheus.NewDesc("gdbtrace_nacks_received_total", "RSP non-'+' acks received, triggering a resend.", labels, nil),
		nacksSent:           prometheus.NewDesc("gdbtrace_nacks_sent_total", "RSP '-' nacks sent for a failed checksum.", labels, nil),
		checksumMismatches:  prometheus.NewDesc("gdbtrace_checksum_mismatches_total", "Packets received with a bad checksum.", labels, nil),
		notificationsQueued: prometheus.NewDesc("gdbtrace_notifications_queued_total", "Deferred stop notifications queued.", labels, nil),
		notificationsPopped: prometheus.NewDesc("gdbtrace_notifications_popped_total", "Deferred stop notifications drained.", labels, nil),
		trackedThreads:      prometheus.NewDesc("gdbtrace_tracked_threads", "Threads currently tracked for this session.", labels, nil),
	}
}

// Add registers a session for scraping under the given session ID. stats
// and threadCount are called synchronously during Collect, so they must
// be cheap and non-blocking.
func (c *Collector) Add(sessionID string, stats func() rsp.StatsSnapshot, threadCount func() int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = sessionSource{stats: stats, threadCount: threadCount}
}

// Remove stops scraping a session, typically once its connection closes.
func (c *Collector) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.packetsSent
	descs <- c.packetsReceived
	descs <- c.acksReceived
	descs <- c.nacksReceived
	descs <- c.nacksSent
	descs <- c.checksumMismatches
	descs <- c.notificationsQueued
	descs <- c.notificationsPopped
	descs <- c.trackedThreads
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, src := range c.sessions {
		snap := src.stats()
		labels := []string{sessionID}

		metrics <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(snap.PacketsSent), labels...)
		metrics <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(snap.PacketsReceived), labels...)
		metrics <- prometheus.MustNewConstMetric(c.acksReceived, prometheus.CounterValue, float64(snap.AcksReceived), labels...)
		metrics <- prometheus.MustNewConstMetric(c.nacksReceived, prometheus.CounterValue, float64(snap.NacksReceived), labels...)
		metrics <- prometheus.MustNewConstMetric(c.nacksSent, prometheus.CounterValue, float64(snap.NacksSent), labels...)
		metrics <- prometheus.MustNewConstMetric(c.checksumMismatches, prometheus.CounterValue, float64(snap.ChecksumMismatches), labels...)
		metrics <- prometheus.MustNewConstMetric(c.notificationsQueued, prometheus.CounterValue, float64(snap.NotificationsQueued), labels...)
		metrics <- prometheus.MustNewConstMetric(c.notificationsPopped, prometheus.CounterValue, float64(snap.NotificationsPopped), labels...)
		metrics <- prometheus.MustNewConstMetric(c.trackedThreads, prometheus.GaugeValue, float64(src.threadCount()), labels...)
	}
}

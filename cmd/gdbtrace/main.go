package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gdbtrace/pkg/hostsig"
	"github.com/simeonmiteff/gdbtrace/pkg/metrics"
	"github.com/simeonmiteff/gdbtrace/pkg/rsp"
	"github.com/simeonmiteff/gdbtrace/pkg/trace"
)

// SUPPORTED_PERSONALITIES: how many execution personalities (32/64-bit,
// etc.) to build a signal map for. Per-architecture personality switching
// itself is out of scope; one personality is enough for a single-target
// tracer.
const supportedPersonalities = 1

func main() {
	var (
		target      = flag.String("target", "", "transport target: |cmd, host:service, or /path")
		attachPID   = flag.Int("attach", 0, "attach to an already-running pid instead of launching argv")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "gdbtrace")

	if *target == "" {
		log.Fatal("rsp: -target is required")
	}

	conn, err := dialTarget(*target)
	if err != nil {
		log.Fatalf("rsp: %v", err)
	}
	defer conn.Close()

	session := rsp.NewSession(conn)
	if err := session.Negotiate(log); err != nil {
		log.Fatalf("rsp: negotiation failed: %v", err)
	}
	if err := session.CatchSyscalls(); err != nil {
		log.Fatalf("rsp: %v", err)
	}

	extendedRealtime := hostsig.DetectExtendedRealtime()
	if extendedRealtime {
		log.Debug("hostsig: kernel supports the full real-time signal range")
	} else {
		log.Debug("hostsig: kernel only supports the narrow real-time signal range")
	}
	signals := hostsig.BuildMap(supportedPersonalities, singlePersonalityOracle{})
	signals.HasExtendedRealtime = extendedRealtime

	threads := trace.NewMapThreadTable()
	decoder := trace.NewLoggingDecoder(log)
	router := trace.NewLoggingRouter(log)
	tracer := trace.NewTracer(session, signals, threads, decoder, router, log)

	collector := metrics.NewCollector()
	collector.Add(session.ID(), conn.Stats, threads.Len)
	prometheus.MustRegister(collector)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, log)
	}

	ctx := context.Background()

	if *attachPID != 0 {
		if err := tracer.StartupAttach(ctx, *attachPID); err != nil {
			log.Fatalf("rsp: attach failed: %v", err)
		}
	} else {
		argv := flag.Args()
		if len(argv) == 0 {
			log.Fatal("rsp: need either -attach or a command to run")
		}
		if err := tracer.StartupChild(ctx, argv); err != nil {
			log.Fatalf("rsp: startup failed: %v", err)
		}
	}

	if err := tracer.FinalizeInit(); err != nil {
		log.Fatalf("rsp: %v", err)
	}

	for {
		more, err := tracer.Trace(ctx)
		if err != nil {
			if errors.Is(err, rsp.ErrFatal) {
				log.Fatalf("rsp: %v", err)
			}
			log.Errorf("rsp: %v", err)
			break
		}
		if !more {
			break
		}
	}
}

// dialTarget parses a transport target string into the matching
// rsp.Dial* constructor: "|command" spawns a subprocess, "host:service"
// dials TCP, anything else is treated as a path.
func dialTarget(target string) (*rsp.Connection, error) {
	switch {
	case strings.HasPrefix(target, "|"):
		return rsp.DialCommand(strings.TrimPrefix(target, "|"))
	case strings.Contains(target, ":") && !strings.HasPrefix(target, "/"):
		host, service, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("invalid host:service target %q", target)
		}
		return rsp.DialTCP(host, service)
	default:
		return rsp.DialPath(target)
	}
}

func serveMetrics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("metrics: serving on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics: %v", err)
	}
}

// singlePersonalityOracle is the default hostsig.SignalOracle: a
// single-personality host where switching personality is a no-op. A
// multi-personality tracer would replace this with one that actually
// reads the target's ELF class and switches strace's own personality.
type singlePersonalityOracle struct{}

func (singlePersonalityOracle) Name(i int) string {
	if i < 0 || i >= len(hostSignalNames) {
		return ""
	}
	return hostSignalNames[i]
}

func (singlePersonalityOracle) NSignals() int {
	return len(hostSignalNames)
}

func (singlePersonalityOracle) UsePersonality(int) func() {
	return func() {}
}

// hostSignalNames mirrors the subset of POSIX signal names the GDB_SIGNAL_*
// table also names, without the "SIG" prefix, so hostsig.BuildMap's name
// matching has something to compare against.
var hostSignalNames = []string{
	0: "0", 1: "HUP", 2: "INT", 3: "QUIT", 4: "ILL", 5: "TRAP", 6: "ABRT",
	7: "BUS", 8: "FPE", 9: "KILL", 10: "USR1", 11: "SEGV", 12: "USR2",
	13: "PIPE", 14: "ALRM", 15: "TERM", 17: "CHLD", 18: "CONT", 19: "STOP",
	20: "TSTP", 21: "TTIN", 22: "TTOU", 23: "URG", 24: "XCPU", 25: "XFSZ",
	26: "VTALRM", 27: "PROF", 28: "WINCH", 29: "IO", 30: "PWR", 31: "SYS",
}

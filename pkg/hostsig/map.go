package hostsig

// NoMapping is returned by ToHost when a GDB signal has no corresponding
// host signal under the given personality.
const NoMapping = -1

// SignalOracle is the host-signal-naming collaborator cmd/gdbtrace supplies:
// it knows the running kernel/personality's own signal names, separate
// from the GDB wire-protocol names in gdbsignals.go.
type SignalOracle interface {
	// Name returns the host signal name for signal number i (e.g. "SEGV"
	// for SIGSEGV, no "SIG" prefix, matching the GDB_SIGNAL_* table's
	// convention), or "" if i isn't a valid host signal.
	Name(i int) string
	// NSignals returns one past the highest host signal number to scan.
	NSignals() int
	// UsePersonality switches the process to personality p for the
	// duration of a signal-map build and returns a restore function.
	// BuildMap always calls the returned restore via defer, covering
	// panics as well as normal return.
	UsePersonality(p int) (restore func())
}

// Map is a built, read-only-after-construction signal translation table:
// map.Table[personality][gdbSignal] is a host signal number, or NoMapping.
type Map struct {
	Table [][]int

	// HasExtendedRealtime records whether the local kernel is new enough
	// to expose the full REALTIME_64..127 band (see kernel.go). BuildMap
	// leaves it false; cmd/gdbtrace sets it from DetectExtendedRealtime. It
	// is an advisory flag only: it never changes ToHost's behavior.
	HasExtendedRealtime bool
}

// BuildMap computes the signal map for every personality by walking
// every GDB signal number under each personality's host naming via
// mapSignal.
func BuildMap(personalities int, oracle SignalOracle) *Map {
	m := &Map{Table: make([][]int, personalities)}
	for pers := 0; pers < personalities; pers++ {
		func() {
			restore := oracle.UsePersonality(pers)
			defer restore()
			row := make([]int, GDBSignalLast)
			for gdbSig := 0; gdbSig < GDBSignalLast; gdbSig++ {
				row[gdbSig] = mapSignal(gdbSig, oracle)
			}
			m.Table[pers] = row
		}()
	}
	return m
}

// mapSignal implements the reference's gdb_map_signal rule exactly:
//  1. GDB_SIGNAL_0 maps to host 0.
//  2. GDB_SIGNAL_REALTIME_32 maps to host 32 (it sits alone, between the
//     two contiguous real-time bands).
//  3. GDB_SIGNAL_REALTIME_33..63 maps contiguously to host 33..63.
//  4. GDB_SIGNAL_REALTIME_64..127 maps contiguously to host 64..127.
//  5. Otherwise, look up the GDB name; if the oracle's same-numbered host
//     signal has the identical name, use that number directly; otherwise
//     scan every host signal for a name match; otherwise NoMapping.
func mapSignal(gdbSig int, oracle SignalOracle) int {
	if gdbSig == GDBSignal0 {
		return 0
	}
	if gdbSig == GDBSignalREALTIME32 {
		return 32
	}
	if gdbSig >= GDBSignalREALTIME33 && gdbSig <= GDBSignalREALTIME63 {
		return gdbSig - GDBSignalREALTIME33 + 33
	}
	if gdbSig >= GDBSignalREALTIME64 && gdbSig <= GDBSignalREALTIME127 {
		return gdbSig - GDBSignalREALTIME64 + 64
	}

	gdbName := GDBSignalName(gdbSig)
	if gdbName == "" {
		return NoMapping
	}

	nsig := oracle.NSignals()
	if gdbSig < nsig && oracle.Name(gdbSig) == gdbName {
		return gdbSig
	}
	for sig := 1; sig < nsig; sig++ {
		if sig == gdbSig {
			continue
		}
		if oracle.Name(sig) == gdbName {
			return sig
		}
	}
	return NoMapping
}

// ToHost translates a GDB signal number under personality to a host
// signal number, reporting false if there is no mapping or the inputs
// are out of range.
func (m *Map) ToHost(personality, gdbSignal int) (int, bool) {
	if personality < 0 || personality >= len(m.Table) {
		return 0, false
	}
	row := m.Table[personality]
	if gdbSignal < 0 || gdbSignal >= len(row) {
		return 0, false
	}
	host := row[gdbSignal]
	if host == NoMapping {
		return 0, false
	}
	return host, true
}

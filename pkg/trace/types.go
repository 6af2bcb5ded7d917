// Package trace drives the tracee control loop on top of a negotiated
// rsp.Session: it decodes stop replies into syscall/signal/exit events,
// reconciles a per-thread bookkeeping table, and emits the right
// continuation command after each stop.
package trace

// ThreadRecord flags.
const (
	ThreadFlagAttached uint32 = 1 << iota
	ThreadFlagStartup
	ThreadFlagInSyscall
)

// ThreadRecord is the bookkeeping state kept per traced thread. It is
// allocated on first sighting of a TID and dropped on exit/termination.
type ThreadRecord struct {
	PID                int
	TID                int
	Flags              uint32
	CurrentPersonality int
	LastSyscallNumber  int
	PrevSyscallEntry   int
	InSyscall          bool
}

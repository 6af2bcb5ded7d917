package trace

// ThreadTable is the external tracee bookkeeping collaborator. Its
// internal storage is out of scope here; pkg/trace only depends on this
// interface, and supplies MapThreadTable as a runnable default.
type ThreadTable interface {
	Lookup(tid int) (*ThreadRecord, bool)
	Allocate(tid int) *ThreadRecord
	Drop(tid int)
}

// Decoder is the external syscall-decoding collaborator. A real syscall
// pretty-printer is out of scope here; pkg/trace supplies LoggingDecoder
// as a runnable default.
type Decoder interface {
	SyscallNumber(rec *ThreadRecord) int
	TraceSyscall(rec *ThreadRecord)
	Exiting(rec *ThreadRecord) bool
	PrintSignalled(rec *ThreadRecord, status int)
	PrintExited(rec *ThreadRecord, status int)
	PrintStopped(rec *ThreadRecord, siginfo []byte, hostSignal int)
}

// OutputRouter is the external output-file-management collaborator; its
// internals are out of scope here. LoggingRouter is the runnable default.
type OutputRouter interface {
	NewOutputFile(rec *ThreadRecord)
	HideLogUntilExecve(enabled bool)
}

package trace

import "github.com/sirupsen/logrus"

// LoggingDecoder renders syscall/signal/exit events through logrus
// instead of a real syscall pretty-printer (explicitly out of scope
// here). It is enough to run the control loop end-to-end.
type LoggingDecoder struct {
	log *logrus.Entry
}

// NewLoggingDecoder builds a LoggingDecoder that logs through log.
func NewLoggingDecoder(log *logrus.Entry) *LoggingDecoder {
	return &LoggingDecoder{log: log}
}

func (d *LoggingDecoder) SyscallNumber(rec *ThreadRecord) int {
	return rec.LastSyscallNumber
}

func (d *LoggingDecoder) TraceSyscall(rec *ThreadRecord) {
	d.log.WithFields(logrus.Fields{
		"pid":     rec.PID,
		"tid":     rec.TID,
		"syscall": rec.LastSyscallNumber,
	}).Info("syscall")
}

func (d *LoggingDecoder) Exiting(rec *ThreadRecord) bool {
	return rec.InSyscall
}

func (d *LoggingDecoder) PrintSignalled(rec *ThreadRecord, status int) {
	d.log.WithFields(logrus.Fields{
		"pid":    rec.PID,
		"tid":    rec.TID,
		"status": status,
	}).Info("killed by signal")
}

func (d *LoggingDecoder) PrintExited(rec *ThreadRecord, status int) {
	d.log.WithFields(logrus.Fields{
		"pid":    rec.PID,
		"tid":    rec.TID,
		"status": status,
	}).Info("exited")
}

func (d *LoggingDecoder) PrintStopped(rec *ThreadRecord, siginfo []byte, hostSignal int) {
	d.log.WithFields(logrus.Fields{
		"pid":          rec.PID,
		"tid":          rec.TID,
		"host_signal":  hostSignal,
		"siginfo_size": len(siginfo),
	}).Info("stopped by signal")
}

// LoggingRouter is the default OutputRouter: it logs output-file
// lifecycle events instead of managing real per-tracee output files
// (explicitly out of scope here).
type LoggingRouter struct {
	log *logrus.Entry
}

// NewLoggingRouter builds a LoggingRouter that logs through log.
func NewLoggingRouter(log *logrus.Entry) *LoggingRouter {
	return &LoggingRouter{log: log}
}

func (r *LoggingRouter) NewOutputFile(rec *ThreadRecord) {
	r.log.WithFields(logrus.Fields{"pid": rec.PID, "tid": rec.TID}).Debug("new output file")
}

func (r *LoggingRouter) HideLogUntilExecve(enabled bool) {
	r.log.WithField("enabled", enabled).Debug("hide log until execve")
}

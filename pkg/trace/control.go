package trace

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/gdbtrace/pkg/hostsig"
	"github.com/simeonmiteff/gdbtrace/pkg/rsp"
)

// Tracer is the process-wide session value: it owns the negotiated
// session, the signal map, and the three external collaborators, and is
// passed explicitly rather than held in package globals so more than one
// can coexist in a process (tests run several side by side).
type Tracer struct {
	Session *rsp.Session
	Signals *hostsig.Map

	Threads  ThreadTable
	Decoder  Decoder
	Output   OutputRouter

	CurrentTracee *ThreadRecord

	log *logrus.Entry
}

// NewTracer assembles a Tracer from an already-negotiated session and its
// collaborators.
func NewTracer(session *rsp.Session, signals *hostsig.Map, threads ThreadTable, decoder Decoder, output OutputRouter, log *logrus.Entry) *Tracer {
	return &Tracer{
		Session: session,
		Signals: signals,
		Threads: threads,
		Decoder: decoder,
		Output:  output,
		log:     log.WithField("session", session.ID()),
	}
}

// StartupChild spawns argv on the remote stub via vRun and records the
// resulting thread as attached.
func (t *Tracer) StartupChild(ctx context.Context, argv []string) error {
	cmd := make([]byte, 0, 64)
	cmd = append(cmd, "vRun"...)
	for _, arg := range argv {
		cmd = append(cmd, ';')
		cmd = append(cmd, rsp.EncodeHexString(arg)...)
	}
	if err := t.Session.Conn.Send(cmd); err != nil {
		return err
	}

	stop, err := t.Session.RecvStop(ctx)
	if err != nil {
		return err
	}
	switch stop.Kind {
	case rsp.StopError:
		return fmt.Errorf("%w: vRun failed: %q", rsp.ErrFatal, stop.Raw)
	case rsp.StopTrap:
	default:
		return fmt.Errorf("%w: vRun expected trap, got %q", rsp.ErrFatal, stop.Raw)
	}

	rec := t.Threads.Allocate(stop.TID)
	rec.PID = stop.PID
	rec.Flags |= ThreadFlagAttached | ThreadFlagStartup
	t.Output.NewOutputFile(rec)
	// Real strace attaches just before exec so the first syscall observed
	// is the execve with its arguments; we don't emulate that delay here,
	// so there is nothing to hide.
	t.Output.HideLogUntilExecve(false)
	return nil
}

// StartupAttach attaches to an already-running pid, preferring non-stop
// mode so the attach doesn't block the connection on a synchronous reply.
func (t *Tracer) StartupAttach(ctx context.Context, pid int) error {
	nonStop, err := t.Session.NegotiateNonStopAttach(pid)
	if err != nil {
		return err
	}

	stop, err := t.Session.RecvStop(ctx)
	if err != nil {
		return err
	}
	if !nonStop {
		switch stop.Kind {
		case rsp.StopError:
			return fmt.Errorf("%w: vAttach failed: %q", rsp.ErrFatal, stop.Raw)
		case rsp.StopTrap:
		case rsp.StopSignal:
			if stop.Code != 0 {
				return fmt.Errorf("%w: vAttach expected trap, got %q", rsp.ErrFatal, stop.Raw)
			}
		default:
			return fmt.Errorf("%w: vAttach expected trap, got %q", rsp.ErrFatal, stop.Raw)
		}
	}

	tid := stop.TID
	if tid == 0 {
		tid = pid
	}
	rec := t.Threads.Allocate(tid)
	rec.PID = pid
	rec.Flags |= ThreadFlagAttached | ThreadFlagStartup
	t.Output.NewOutputFile(rec)
	t.log.Infof("process %d attached", pid)
	return nil
}

// FinalizeInit enumerates every thread the stub currently knows about via
// qfThreadInfo/qsThreadInfo, registers any not already discovered by
// StartupChild/StartupAttach, then continues the whole group so the next
// reply read by Trace is a genuine stop.
func (t *Tracer) FinalizeInit() error {
	if err := t.discoverThreads(); err != nil {
		return err
	}
	return t.sendContinue(0, 0)
}

// discoverThreads walks the qfThreadInfo/qsThreadInfo reply chain until a
// 'l'-prefixed (last) reply arrives, registering any tid not yet in the
// thread table: Hg-focus it and enable syscall catching for it.
// StartupChild/StartupAttach send no QCatchSyscalls for the thread reported
// by vRun/vAttach; cmd/gdbtrace sends one right after Negotiate.
func (t *Tracer) discoverThreads() error {
	conn := t.Session.Conn

	first := true
	for {
		var cmd string
		if first {
			cmd = "qfThreadInfo"
			first = false
		} else {
			cmd = "qsThreadInfo"
		}
		if err := conn.Send([]byte(cmd)); err != nil {
			return err
		}
		reply, err := conn.Recv(false)
		if err != nil {
			return err
		}
		if len(reply) == 0 {
			return fmt.Errorf("%w: %s: empty reply", rsp.ErrFatal, cmd)
		}

		prefix, body := reply[0], reply[1:]
		if prefix != 'm' && prefix != 'l' {
			return fmt.Errorf("%w: %s: unexpected reply %q", rsp.ErrFatal, cmd, reply)
		}

		for _, token := range bytes.Split(body, []byte(",")) {
			if len(token) == 0 {
				continue
			}
			_, tid, ok := parseThreadToken(token)
			if !ok {
				continue
			}
			if _, known := t.Threads.Lookup(tid); known {
				continue
			}
			rec := t.Threads.Allocate(tid)
			rec.Flags |= ThreadFlagAttached
			t.Output.NewOutputFile(rec)

			if err := t.Session.Conn.Send([]byte(fmt.Sprintf("Hg%x", tid))); err != nil {
				return err
			}
			if _, err := t.Session.Conn.Recv(false); err != nil {
				return err
			}
			if err := t.Session.CatchSyscalls(); err != nil {
				return err
			}
		}

		if prefix == 'l' {
			return nil
		}
	}
}

// parseThreadToken decodes one qfThreadInfo/qsThreadInfo thread-id token:
// either a bare hex tid, or the multiprocess form "p<hexpid>.<hextid>".
func parseThreadToken(token []byte) (pid, tid int, ok bool) {
	if len(token) > 0 && token[0] == 'p' {
		rest := token[1:]
		dot := bytes.IndexByte(rest, '.')
		if dot < 0 {
			return 0, 0, false
		}
		return int(rsp.DecodeHexStr(rest[:dot])), int(rsp.DecodeHexStr(rest[dot+1:])), true
	}
	return 0, int(rsp.DecodeHexStr(token)), true
}

// sendContinue picks the right continuation command: vCont forms when the
// stub advertised vCont support, plain C<hh>/c forms otherwise (some
// stubs, e.g. valgrind's, never advertise vCont).
func (t *Tracer) sendContinue(gdbSig, tid int) error {
	var cmd string
	switch {
	case gdbSig != 0 && t.Session.VContSupported:
		cmd = fmt.Sprintf("vCont;C%02x:%x;c", gdbSig, tid)
	case gdbSig != 0:
		cmd = fmt.Sprintf("C%02x", gdbSig)
	case t.Session.VContSupported:
		cmd = "vCont;c"
	default:
		cmd = "c"
	}
	return t.Session.Conn.Send([]byte(cmd))
}

// Trace reads one stop reply and acts on it: reconciles the thread table,
// dispatches to the Decoder/OutputRouter, and sends the next continuation
// command. It reports (false, nil) when the stub's vCont errored out
// because there are no more processes left to trace.
func (t *Tracer) Trace(ctx context.Context) (bool, error) {
	stop, err := t.Session.RecvStop(ctx)
	if err != nil {
		return false, err
	}

	switch stop.Kind {
	case rsp.StopUnknown:
		return false, fmt.Errorf("%w: stop reply unknown: %q", rsp.ErrFatal, stop.Raw)
	case rsp.StopError:
		return false, nil
	}

	rec, ok := t.Threads.Lookup(stop.TID)
	if !ok {
		rec = t.Threads.Allocate(stop.TID)
		rec.Flags |= ThreadFlagAttached | ThreadFlagStartup
		t.Output.NewOutputFile(rec)
	}

	if _, err := t.Session.GetRegs(stop.TID); err != nil {
		return false, err
	}

	t.CurrentTracee = rec

	if rec.Flags&ThreadFlagStartup != 0 {
		rec.Flags &^= ThreadFlagStartup
		if t.Decoder.SyscallNumber(rec) == 1 {
			rec.PrevSyscallEntry = rec.LastSyscallNumber
		}
	}

	gdbSig := 0
	switch stop.Kind {
	case rsp.StopTrap:
		// Miscellaneous trap; nothing further to do.

	case rsp.StopSyscallEntry:
		// If we thought we were already in a syscall, force a fresh
		// entry regardless rather than leaving the state stuck.
		rec.InSyscall = false
		rec.LastSyscallNumber = stop.Code
		t.Decoder.TraceSyscall(rec)

	case rsp.StopSyscallReturn:
		if t.Decoder.Exiting(rec) {
			rec.LastSyscallNumber = stop.Code
			t.Decoder.TraceSyscall(rec)
		}

	case rsp.StopSignal:
		// TODO: siginfo is delivered raw, with no siginfo_fixup/compat
		// conversion applied to translate the stub's native siginfo_t
		// layout into the host's.
		siginfo, _ := t.Session.QXferRead("siginfo", "")
		gdbSig = stop.Code
		hostSig, _ := t.Signals.ToHost(rec.CurrentPersonality, gdbSig)
		t.Decoder.PrintStopped(rec, siginfo, hostSig)

	case rsp.StopExited:
		t.Decoder.PrintExited(rec, stop.Code)
		t.Threads.Drop(rec.TID)
		if !t.Session.Multiprocess {
			return false, nil
		}

	case rsp.StopTerminated:
		hostSig, _ := t.Signals.ToHost(rec.CurrentPersonality, stop.Code)
		t.Decoder.PrintSignalled(rec, hostSig)
		t.Threads.Drop(rec.TID)
		if !t.Session.Multiprocess {
			return false, nil
		}
	}

	if err := t.sendContinue(gdbSig, stop.TID); err != nil {
		return false, err
	}
	return true, nil
}

// Detach sends a detach request for the current tracee's process. A
// rejected detach can legitimately race with the tracee exiting
// underneath us, so we only warn if a liveness probe shows the thread is
// still alive.
func (t *Tracer) Detach() error {
	if t.CurrentTracee == nil {
		return nil
	}
	pid := t.CurrentTracee.PID

	if err := t.Session.Conn.Send([]byte(fmt.Sprintf("D;%x", pid))); err != nil {
		return err
	}
	reply, err := t.Session.Conn.Recv(false)
	if err != nil {
		return err
	}
	if string(reply) == "OK" {
		return nil
	}

	if err := t.Session.Conn.Send([]byte(fmt.Sprintf("T;%x", pid))); err != nil {
		return err
	}
	liveness, err := t.Session.Conn.Recv(false)
	if err != nil {
		return err
	}
	if string(liveness) == "OK" {
		t.log.Warnf("rsp: detach of still-live pid %d rejected: %q", pid, reply)
	}
	return nil
}

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/netlisten"
)

// Resume runs exactly one iteration of the event loop: reap any
// terminated workers, poll for readiness, admit at most one new
// connection, and drain whatever worker stderr became readable. It
// returns StatusSome if any of those steps made observable progress,
// StatusNone if the iteration was a pure no-op (the caller should yield),
// and StatusError if a non-recoverable error occurred.
func (s *Supervisor) Resume() (Status, error) {
	reaped := s.reapSweep()

	belowCap := len(s.workers) < s.mproc

	pollSet := s.pollfds
	timeout := -1
	if !belowCap {
		// At the cap, the listener is excluded from the poll set entirely
		// so a flood of incoming connections can't starve worker stderr
		// draining; a short timeout still lets reapSweep make progress
		// once a slot frees up.
		pollSet = s.pollfds[1:]
		timeout = atCapPollTimeoutMS
	}

	if _, err := unix.Poll(pollSet, timeout); err != nil {
		if err == unix.EINTR {
			return statusFor(reaped, false, false), nil
		}
		return StatusError, fmt.Errorf("poll: %w", err)
	}

	accepted := false
	if belowCap && s.pollfds[0].Revents&unix.POLLIN != 0 {
		ok, err := s.tryAccept()
		if err != nil {
			return StatusError, err
		}
		accepted = ok
	}

	lineProgress := false
	for i := range s.workers {
		revents := s.pollfds[i+1].Revents

		if revents&unix.POLLERR != 0 {
			fmt.Fprintf(s.stderr, "pid %d: pipe error\n", s.workers[i].pid)
		}

		if revents&unix.POLLIN == 0 {
			continue
		}

		progressed, err := s.passProcError(i)
		if err != nil {
			fmt.Fprintf(s.stderr, "%v\n", err)
			continue
		}
		if progressed {
			lineProgress = true
		}
	}

	return statusFor(reaped, accepted, lineProgress), nil
}

func statusFor(reaped, accepted, lineProgress bool) Status {
	if reaped || accepted || lineProgress {
		return StatusSome
	}
	return StatusNone
}

// tryAccept accepts one connection off the listener and admits it as a
// worker. A transient accept error (ECONNABORTED, EINTR, EMFILE, ...)
// counts as progress in its own right rather than an error to report, but
// does not admit a worker. A failure in admit (pipe creation or spawn)
// is not transient: it is reported to the caller as an iteration-fatal
// error, the same as a non-transient accept failure.
func (s *Supervisor) tryAccept() (progressed bool, err error) {
	connFd, remote, acceptErr := netlisten.AcceptRemote(s.listenerFD, s.domain)
	if acceptErr != nil {
		if netlisten.IsTransientAcceptError(acceptErr) {
			return true, nil
		}
		return false, fmt.Errorf("accept: %w", acceptErr)
	}

	if err := s.admit(connFd, remote); err != nil {
		return false, fmt.Errorf("admit: %w", err)
	}

	return true, nil
}

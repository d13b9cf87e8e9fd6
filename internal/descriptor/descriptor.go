// Package descriptor provides the low-level file-descriptor primitives the
// supervisor needs: nonblocking sockets, close-on-exec sockets, and the
// half-nonblocking pipe used to carry worker stderr without ever blocking a
// child that floods its error stream.
package descriptor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/applog"
)

// Nonblocking sets O_NONBLOCK on fd, preserving any other flags already set.
func Nonblocking(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("fcntl(F_GETFL, fd=%d): %w", fd, err)
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
	if err != nil {
		return fmt.Errorf("fcntl(F_SETFL, fd=%d): %w", fd, err)
	}

	return nil
}

// HalfNonblockingPipe creates a pipe whose write end only is nonblocking.
// The read end stays blocking: it is always driven by poll readiness, so a
// blocking read on it never stalls the supervisor. Leaving the write end
// nonblocking is what keeps a child that floods stderr faster than the
// supervisor can drain it from blocking on write(2).
//
// Both ends are returned as raw fds, not *os.File: the worker table keeps
// the read end open for the worker's whole lifetime, well past any single
// function's stack frame, and os.File registers a GC finalizer that closes
// its fd — exactly the kind of surprise close this package exists to rule
// out. Callers that hand an fd to exec.Cmd wrap it in a short-lived
// os.NewFile only for the duration of Cmd.Start (see internal/launcher).
//
// Do not replace this with a single Pipe2(O_NONBLOCK) call: that would make
// both ends nonblocking, which is the wrong semantic for the read side: the
// demultiplexer reads it only after poll reports it readable.
func HalfNonblockingPipe() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, fmt.Errorf("pipe2: %w", err)
	}

	if err := Nonblocking(fds[1]); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return -1, -1, fmt.Errorf("making pipe write end nonblocking: %w", err)
	}

	return fds[0], fds[1], nil
}

// QualifiedSocket creates a socket that is both nonblocking and
// close-on-exec. The kernel-level SOCK_NONBLOCK|SOCK_CLOEXEC flags are tried
// first; if the kernel rejects them (EINVAL, seen on some emulated or very
// old kernels), the fallback applies both properties via separate fd-flag
// operations and only logs, rather than fails, if either fallback step
// fails — the fd-flag fallback is best-effort.
func QualifiedSocket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err == nil {
		return fd, nil
	}

	if err != unix.EINVAL && err != unix.EPROTONOSUPPORT {
		return -1, fmt.Errorf("socket: %w", err)
	}

	fd, err = unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, fmt.Errorf("socket (fallback): %w", err)
	}

	if err := Nonblocking(fd); err != nil {
		applog.Log().WithError(err).WithField("fd", fd).
			Warn("failed to set O_NONBLOCK on fallback socket")
	}

	if _, ferr := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); ferr != nil {
		applog.Log().WithError(ferr).WithField("fd", fd).
			Warn("failed to set FD_CLOEXEC on fallback socket")
	}

	return fd, nil
}

// Package supervisor is the connection supervisor's core: the worker
// table, the stderr demultiplexer, the reaper, the event loop (Resume),
// and the driver (Run). These components share one package because they
// all operate on the same unexported Supervisor value and have no
// meaningful API surface beyond it.
package supervisor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/addrspec"
	"github.com/Pierre-Colin/serve/internal/launcher"
	"github.com/Pierre-Colin/serve/internal/netlisten"
)

// Per-worker stderr buffer bounds.
const (
	maxLineBuffer = 65534
	readChunk     = 128
)

// atCapPollTimeoutMS is the poll timeout used while at the admission cap.
const atCapPollTimeoutMS = 50

// Status is Resume's three-valued return taxonomy.
type Status int

const (
	StatusNone Status = iota
	StatusSome
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusSome:
		return "SOME"
	case StatusError:
		return "ERROR"
	default:
		return "?"
	}
}

// worker is one live worker record.
type worker struct {
	pid        int
	pipeReadFd int
	remote     string
	ebuf       []byte // nil until the first read; then len(ebuf) == cebuf+1 and ebuf[nebuf] is 0
	nebuf      int
	cebuf      int
}

// Config collects the immutable, process-wide configuration: the shell
// command, the listener fd, and the requested worker cap before the OS
// fd-limit clamp is applied.
type Config struct {
	Command    string
	ListenerFD int
	Domain     addrspec.Domain
	SockType   netlisten.SockType
	MaxWorkers int
}

// Supervisor owns every piece of mutable state the event loop touches: the
// worker table and its index-aligned poll vector (slot 0 is the
// listener), the listener fd, and the admission cap. It is driven by
// exactly one goroutine and holds no lock.
type Supervisor struct {
	listenerFD int
	domain     addrspec.Domain
	launcher   *launcher.Launcher
	mproc      int

	workers []worker
	pollfds []unix.PollFd

	stdout io.Writer
	stderr io.Writer
}

// New constructs a Supervisor, computing mproc = min(requested,
// RLIMIT_NOFILE - 2) (a requested cap of zero or less means RLIMIT_NOFILE
// - 2), and seeding the poll vector with the listener at slot 0.
func New(cfg Config) (*Supervisor, error) {
	mproc, err := admissionCap(cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		listenerFD: cfg.ListenerFD,
		domain:     cfg.Domain,
		launcher:   launcher.New(cfg.Command),
		mproc:      mproc,
		pollfds:    []unix.PollFd{{Fd: int32(cfg.ListenerFD), Events: unix.POLLIN}},
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}, nil
}

func admissionCap(requested int) (int, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, fmt.Errorf("getrlimit(RLIMIT_NOFILE): %w", err)
	}

	ceiling := int(rlim.Cur) - 2
	if ceiling < 0 {
		ceiling = 0
	}

	if requested <= 0 || requested > ceiling {
		return ceiling, nil
	}
	return requested, nil
}

// NumWorkers reports the current live worker count (nproc), mostly for
// tests asserting admission-cap behavior.
func (s *Supervisor) NumWorkers() int {
	return len(s.workers)
}

// MaxWorkers reports the computed admission cap (mproc).
func (s *Supervisor) MaxWorkers() int {
	return s.mproc
}

// Close releases every fd this Supervisor still owns: each live worker's
// stderr pipe and the listener. Call it once, normally via defer
// immediately after New succeeds, so it also runs on every early-return
// error path out of the driver.
func (s *Supervisor) Close() error {
	var firstErr error

	for i := range s.workers {
		if err := unix.Close(s.workers[i].pipeReadFd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing pipe for pid %d: %w", s.workers[i].pid, err)
		}
	}
	s.workers = nil
	s.pollfds = s.pollfds[:1]

	if err := unix.Close(s.listenerFD); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing listener: %w", err)
	}

	return firstErr
}

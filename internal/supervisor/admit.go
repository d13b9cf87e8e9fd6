package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/descriptor"
)

// admit turns one freshly accepted connection into a worker: it opens the
// half-nonblocking stderr pipe, spawns the worker command, and installs
// the worker record. connFd is consumed either way — Spawn closes it
// whether or not it succeeds, and if the pipe cannot be created admit
// closes it itself.
func (s *Supervisor) admit(connFd int, remote string) error {
	readFd, writeFd, err := descriptor.HalfNonblockingPipe()
	if err != nil {
		unix.Close(connFd)
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	pid, err := s.launcher.Spawn(connFd, writeFd, remote)
	if err != nil {
		unix.Close(readFd)
		return err
	}

	s.appendWorker(pid, readFd, remote)
	return nil
}

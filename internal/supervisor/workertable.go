package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// appendWorker installs a new worker record with an empty stderr buffer
// and a POLLIN poll slot, then emits the admission line to the
// supervisor's own stdout.
func (s *Supervisor) appendWorker(pid, pipeReadFd int, remote string) {
	s.workers = append(s.workers, worker{pid: pid, pipeReadFd: pipeReadFd, remote: remote})
	s.pollfds = append(s.pollfds, unix.PollFd{Fd: int32(pipeReadFd), Events: unix.POLLIN})

	fmt.Fprintf(s.stdout, "Process %d created (%s)\n", pid, remote)
}

// removeWorker closes worker i's pipe and compacts the table with an O(1)
// swap-with-last. The pollfds slice is offset by one slot throughout
// (slot 0 is the listener), so the same swap is mirrored there. Callers
// must not assume index i still names the same worker afterwards: the
// slot now holds whichever worker was previously last.
func (s *Supervisor) removeWorker(i int) {
	unix.Close(s.workers[i].pipeReadFd)

	last := len(s.workers) - 1
	s.workers[i] = s.workers[last]
	s.workers = s.workers[:last]

	s.pollfds[i+1] = s.pollfds[last+1]
	s.pollfds = s.pollfds[:last+1]
}

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reapSweep walks the worker table for terminated workers, flushing any
// residual (unterminated) stderr to the supervisor's own stderr and
// emitting the exit line on stdout before removing them. It reports
// whether it reaped at least one worker.
//
// removeWorker swaps the last live worker into the freed slot, so this
// loop re-examines index i after a removal instead of advancing past it —
// the newly-moved occupant needs checking too.
func (s *Supervisor) reapSweep() bool {
	progressed := false

	for i := 0; i < len(s.workers); {
		w := &s.workers[i]

		var status unix.WaitStatus
		pid, err := unix.Wait4(w.pid, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			i++
			continue
		}

		if w.nebuf > 0 {
			fmt.Fprintf(s.stderr, "%d: %s\n", w.pid, w.ebuf[:w.nebuf])
			w.nebuf = 0
		}

		fmt.Fprintf(s.stdout, "Process %d exited (%d)\n", w.pid, int(status))

		s.removeWorker(i)
		progressed = true
	}

	return progressed
}

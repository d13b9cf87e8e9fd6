package supervisor

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrLineTooLong is returned when a worker's stderr produces a line (no
// intervening '\n') that would exceed maxLineBuffer bytes. This is a
// reporting failure, not grounds to kill a process that may still exit
// cleanly on its own, so the worker itself is left untouched.
var ErrLineTooLong = errors.New("stderr line exceeds buffer cap")

// passProcError reads up to one chunk of worker i's stderr, splits
// whatever is newline-terminated into lines tagged "<pid>: <line>" on the
// supervisor's own stdout, and keeps any trailing partial line buffered
// for next time. It reports whether it emitted at least one line.
func (s *Supervisor) passProcError(i int) (progressed bool, err error) {
	w := &s.workers[i]

	if w.nebuf+readChunk > w.cebuf {
		if w.nebuf > maxLineBuffer-readChunk {
			return false, fmt.Errorf("pid %d: %w", w.pid, ErrLineTooLong)
		}
		w.grow(w.nebuf + readChunk)
	}

	n, err := unix.Read(w.pipeReadFd, w.ebuf[w.nebuf:w.nebuf+readChunk])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("reading stderr of pid %d: %w", w.pid, err)
	}
	if n <= 0 {
		// EOF: the pipe's write end has closed. Any residual partial line
		// is flushed by the reaper once the worker is confirmed dead.
		return false, nil
	}

	w.nebuf += n
	w.ebuf[w.nebuf] = 0

	for {
		idx := bytes.IndexByte(w.ebuf[:w.nebuf], '\n')
		if idx < 0 {
			break
		}

		fmt.Fprintf(s.stdout, "%d: %s\n", w.pid, w.ebuf[:idx])

		remaining := w.nebuf - (idx + 1)
		copy(w.ebuf[:remaining], w.ebuf[idx+1:w.nebuf])
		w.nebuf = remaining
		w.ebuf[w.nebuf] = 0
		progressed = true
	}

	return progressed, nil
}

// grow reallocates ebuf to hold at least newCap bytes plus the trailing
// NUL, preserving everything already buffered.
func (w *worker) grow(newCap int) {
	grown := make([]byte, newCap+1)
	copy(grown, w.ebuf[:w.nebuf])
	w.ebuf = grown
	w.cebuf = newCap
}

package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Run drives Resume until an interrupt or termination signal is received.
// The first such signal sets a shutdown flag and restores the default
// signal disposition, so a second signal terminates the process
// immediately through the ordinary OS path rather than through any code
// here — nothing further is needed once signal.Reset is called.
//
// Each iteration that makes no progress yields the scheduler with
// runtime.Gosched rather than spinning; Resume itself blocks in poll(2)
// whenever there is nothing ready, so Gosched mainly matters for the
// StatusNone case that follows an EINTR.
func Run(sup *Supervisor) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdown := false

	for !shutdown {
		select {
		case <-sigCh:
			shutdown = true
			signal.Reset(syscall.SIGINT, syscall.SIGTERM)
		default:
		}

		status, err := sup.Resume()
		if err != nil {
			fmt.Fprintln(os.Stderr, "serve:", err)
			continue
		}
		if status != StatusSome {
			runtime.Gosched()
		}
	}

	return nil
}

// Command serve accepts connections on a configurable address and, for
// each one, runs a command with the connection wired to its standard
// input and output, relaying the command's standard error back to
// serve's own standard output one line at a time.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/cmdline"
	"github.com/Pierre-Colin/serve/internal/netlisten"
	"github.com/Pierre-Colin/serve/internal/supervisor"
)

func main() {
	os.Exit(cmdline.Run(os.Args[1:], run))
}

func run(opts cmdline.Options) error {
	backlog := opts.Backlog
	if opts.SockType == netlisten.TypeDgram {
		backlog = 0
	}

	listenerFD, err := netlisten.GetListener(opts.Address, opts.SockType, backlog)
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	sup, err := supervisor.New(supervisor.Config{
		Command:    opts.Command,
		ListenerFD: listenerFD,
		Domain:     opts.Address.Domain,
		SockType:   opts.SockType,
		MaxWorkers: 0,
	})
	if err != nil {
		unix.Close(listenerFD) // best effort; New failing here means no workers were ever admitted
		return fmt.Errorf("initializing supervisor: %w", err)
	}
	defer sup.Close()

	return supervisor.Run(sup)
}

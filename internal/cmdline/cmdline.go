// Package cmdline wires the serve command's flags and positional
// argument onto cobra as a single hand-built cobra.Command rather than a
// generated multi-command tree, since there is only one command.
package cmdline

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/addrspec"
	"github.com/Pierre-Colin/serve/internal/applog"
	"github.com/Pierre-Colin/serve/internal/netlisten"
)

// Options is the parsed, validated form of the command line, ready to
// hand to internal/supervisor.Config.
type Options struct {
	Address  addrspec.Spec
	Backlog  int
	SockType netlisten.SockType
	Command  string
}

// Run builds the root command and executes it against args (normally
// os.Args[1:]). The returned int is the process exit code: 0 on a clean
// shutdown, 1 on a runtime error, 2 on a usage error.
//
// handle is called with validated Options once cobra has finished parsing
// and is where the caller wires up and drives internal/supervisor; its
// error becomes exit code 1.
func Run(args []string, handle func(Options) error) int {
	var (
		addrFlag     string
		backlogFlag  int
		typeFlag     string
		protocolFlag string
	)

	cmd := &cobra.Command{
		Use:   "serve [flags] command",
		Short: "Accept connections and run command once per connection",
		Long: `serve listens on an address, and for each accepted connection runs
command with the connection wired to its standard input and output. The
command's standard error is relayed line by line to serve's own standard
output, each line tagged with the worker's process ID.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := addrspec.Parse(addrFlag)
			if err != nil {
				return err
			}

			sockType, err := netlisten.ParseSockType(typeFlag)
			if err != nil {
				return err
			}

			if protocolFlag != "" {
				applog.Log().Warn("unimplemented; using stream")
			}

			backlog := backlogFlag
			if backlog < 0 || backlog > unix.SOMAXCONN {
				applog.Log().WithField("requested", backlog).
					WithField("clamped-to", unix.SOMAXCONN).
					Warn("backlog out of range, clamping to SOMAXCONN")
				if backlog < 0 {
					backlog = 0
				} else {
					backlog = unix.SOMAXCONN
				}
			}

			if err := handle(Options{
				Address:  spec,
				Backlog:  backlog,
				SockType: sockType,
				Command:  args[0],
			}); err != nil {
				return runtimeErr{err}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addrFlag, "address", "a", "", "listening address, e.g. \"inet 0.0.0.0 4869\" (default: inet 0.0.0.0 4869)")
	cmd.Flags().IntVarP(&backlogFlag, "backlog", "b", unix.SOMAXCONN, "listen(2) backlog, clamped to [0, SOMAXCONN]")
	cmd.Flags().StringVarP(&typeFlag, "type", "t", "stream", "socket type: stream, dgram, or seqpacket")
	cmd.Flags().StringVarP(&protocolFlag, "protocol", "p", "", "socket protocol (unimplemented; diagnostic only)")

	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		if _, ok := err.(runtimeErr); ok {
			return 1
		}
		return 2
	}

	return 0
}

// runtimeErr distinguishes a failure inside handle (exit code 1) from
// every other Execute error — bad flags, a missing command, an
// unparsable address — which cobra or this package's own validation
// reports as a usage error (exit code 2).
type runtimeErr struct{ error }

// Package applog configures the supervisor's internal diagnostic logger.
//
// This is deliberately separate from the protocol-pinned lines the
// supervisor writes to its own stdout/stderr ("Process <pid> created
// (<remote>)", "<pid>: <line>", "Process <pid> exited (<status>)"): those
// are the external protocol and are written directly with fmt.Fprintf so
// their exact wire format can never drift under a logging library
// upgrade. applog is for internal warnings: the socket-flag fallback
// warnings, the backlog clamp notice, and the one-time "-p is
// unimplemented" notice.
package applog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Log returns the process-wide diagnostic logger, initializing it on first
// use with a plain text formatter writing to stderr.
func Log() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.Out = os.Stderr
		logger.Formatter = &logrus.TextFormatter{
			DisableColors:    false,
			FullTimestamp:    true,
			DisableTimestamp: false,
		}
		logger.Level = logrus.InfoLevel
	})
	return logger
}

package supervisor

import (
	"bytes"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func spawnTestChild(t *testing.T, shell string) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", shell)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Process.Release())
	return pid
}

func TestReapSweep_RemovesExitedWorkerAndReportsStatus(t *testing.T) {
	s := newTestSupervisor()
	pid := spawnTestChild(t, "exit 7")

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[1])
	s.appendWorker(pid, fds[0], "remote")
	s.stdout.(*bytes.Buffer).Reset() // drop the "created" line for this assertion

	var progressed bool
	for i := 0; i < 100 && !progressed; i++ {
		progressed = s.reapSweep()
		if !progressed {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.True(t, progressed, "child never observed as exited")
	assert.Equal(t, 0, s.NumWorkers())
	assert.Contains(t, s.stdout.(*bytes.Buffer).String(), "Process "+strconv.Itoa(pid)+" exited (")
}

func TestReapSweep_LeavesLiveWorkerAlone(t *testing.T) {
	s := newTestSupervisor()
	pid := spawnTestChild(t, "sleep 5")
	defer unix.Kill(pid, unix.SIGKILL)
	defer func() {
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
	}()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	s.workers = []worker{{pid: pid, pipeReadFd: fds[0]}}

	progressed := s.reapSweep()
	assert.False(t, progressed)
	assert.Equal(t, 1, s.NumWorkers())
}

func TestReapSweep_FlushesResidualBufferAndRemoves(t *testing.T) {
	s := newTestSupervisor()
	pid := spawnTestChild(t, "exit 0")

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[1])

	s.workers = []worker{{
		pid:        pid,
		pipeReadFd: fds[0],
		ebuf:       append([]byte("unterminated"), 0),
		nebuf:      len("unterminated"),
		cebuf:      len("unterminated"),
	}}
	s.pollfds = append(s.pollfds, unix.PollFd{Fd: int32(fds[0])})

	var progressed bool
	for i := 0; i < 100 && !progressed; i++ {
		progressed = s.reapSweep()
		if !progressed {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.True(t, progressed, "child never observed as exited")
	assert.Contains(t, s.stderr.(*bytes.Buffer).String(), "unterminated")
	assert.Equal(t, 0, s.NumWorkers())
}

func TestReapSweep_ExitStatusZeroMatchesCleanExit(t *testing.T) {
	s := newTestSupervisor()
	pid := spawnTestChild(t, "exit 0")

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[1])
	s.appendWorker(pid, fds[0], "remote")
	s.stdout.(*bytes.Buffer).Reset()

	var progressed bool
	for i := 0; i < 100 && !progressed; i++ {
		progressed = s.reapSweep()
		if !progressed {
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.True(t, progressed, "child never observed as exited")
	assert.Contains(t, s.stdout.(*bytes.Buffer).String(), "Process "+strconv.Itoa(pid)+" exited (0)")
}

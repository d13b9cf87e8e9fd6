package supervisor

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/addrspec"
	"github.com/Pierre-Colin/serve/internal/descriptor"
	"github.com/Pierre-Colin/serve/internal/launcher"
	"github.com/Pierre-Colin/serve/internal/netlisten"
)

// newLoopbackListener binds a stream socket on an ephemeral localhost port
// for loop tests that need a real, pollable listener fd.
func newLoopbackListener(t *testing.T) (fd int, port uint16) {
	t.Helper()
	spec := addrspec.Spec{Domain: addrspec.DomainInet, Host: "127.0.0.1", Port: 0}
	fd, err := netlisten.GetListener(spec, netlisten.TypeStream, 16)
	require.NoError(t, err)

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	addr, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)

	t.Cleanup(func() { unix.Close(fd) })
	return fd, uint16(addr.Port)
}

func TestResume_AdmitsConnectionAndCreatesWorker(t *testing.T) {
	listenerFD, port := newLoopbackListener(t)

	s := &Supervisor{
		listenerFD: listenerFD,
		domain:     addrspec.DomainInet,
		launcher:   launcher.New("cat >/dev/null"),
		mproc:      4,
		pollfds:    []unix.PollFd{{Fd: int32(listenerFD), Events: unix.POLLIN}},
		stdout:     &bytes.Buffer{},
		stderr:     &bytes.Buffer{},
	}

	clientFd, err := descriptor.QualifiedSocket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(clientFd)

	connectErr := unix.Connect(clientFd, &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{127, 0, 0, 1}})
	if connectErr != nil && connectErr != unix.EINPROGRESS {
		require.NoError(t, connectErr)
	}

	var status Status
	for i := 0; i < 50 && s.NumWorkers() == 0; i++ {
		status, err = s.Resume()
		require.NoError(t, err)
		if status == StatusSome {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 1, s.NumWorkers())
	assert.Contains(t, s.stdout.(*bytes.Buffer).String(), "Process")
	assert.Contains(t, s.stdout.(*bytes.Buffer).String(), "created")
}

func TestResume_ExcludesListenerAtCap(t *testing.T) {
	listenerFD, _ := newLoopbackListener(t)

	readFd, writeFd, err := descriptor.HalfNonblockingPipe()
	require.NoError(t, err)
	defer unix.Close(writeFd)

	s := &Supervisor{
		listenerFD: listenerFD,
		domain:     addrspec.DomainInet,
		launcher:   launcher.New("true"),
		mproc:      1,
		pollfds:    []unix.PollFd{{Fd: int32(listenerFD), Events: unix.POLLIN}},
		stdout:     &bytes.Buffer{},
		stderr:     &bytes.Buffer{},
	}
	s.workers = []worker{{pid: 99999, pipeReadFd: readFd}}
	s.pollfds = append(s.pollfds, unix.PollFd{Fd: int32(readFd), Events: unix.POLLIN})

	status, err := s.Resume()
	require.NoError(t, err)
	// The lone worker (pid 99999) almost certainly doesn't exist, so the
	// reaper makes no progress either; with the listener excluded from
	// the poll set and nothing readable, this iteration is a no-op.
	assert.Equal(t, StatusNone, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusNone, statusFor(false, false, false))
	assert.Equal(t, StatusSome, statusFor(true, false, false))
	assert.Equal(t, StatusSome, statusFor(false, true, false))
	assert.Equal(t, StatusSome, statusFor(false, false, true))
}

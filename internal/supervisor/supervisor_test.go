package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/addrspec"
	"github.com/Pierre-Colin/serve/internal/netlisten"
)

func TestNew_ComputesAdmissionCapFromRlimit(t *testing.T) {
	var rlim unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim))

	fd, err := descriptorDummyFd(t)
	require.NoError(t, err)
	defer unix.Close(fd)

	sup, err := New(Config{
		Command:    "true",
		ListenerFD: fd,
		Domain:     addrspec.DomainInet,
		SockType:   netlisten.TypeStream,
		MaxWorkers: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, int(rlim.Cur)-2, sup.MaxWorkers())
	assert.Equal(t, 0, sup.NumWorkers())
}

func TestNew_RequestedCapBelowCeilingIsHonored(t *testing.T) {
	fd, err := descriptorDummyFd(t)
	require.NoError(t, err)
	defer unix.Close(fd)

	sup, err := New(Config{ListenerFD: fd, MaxWorkers: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, sup.MaxWorkers())
}

func TestClose_ClosesListenerAndWorkerPipes(t *testing.T) {
	fd, err := descriptorDummyFd(t)
	require.NoError(t, err)

	sup, err := New(Config{ListenerFD: fd, MaxWorkers: 1})
	require.NoError(t, err)

	readFd, writeFd, err := newClosablePipe(t)
	require.NoError(t, err)
	defer unix.Close(writeFd)
	sup.appendWorker(1, readFd, "remote")

	require.NoError(t, sup.Close())

	// Both fds should now be invalid; fstat should fail.
	var stat unix.Stat_t
	assert.Error(t, unix.Fstat(fd, &stat))
	assert.Error(t, unix.Fstat(readFd, &stat))
}

func descriptorDummyFd(t *testing.T) (int, error) {
	t.Helper()
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
}

func newClosablePipe(t *testing.T) (read, write int, err error) {
	t.Helper()
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// Package netlisten produces a bound, listening, nonblocking,
// close-on-exec socket for one of the address families in the -a grammar,
// and accepts one connection at a time off it, returning both the new
// connection's fd and a family-specific remote address string suitable
// for the REMOTE environment variable.
//
// Every family is handled at the raw fd level (unix.Socket/Bind/Listen/
// Accept4) rather than through net.Listener, because the supervisor's
// event loop (internal/supervisor) drives readiness itself with its own
// poll(2) call — handing the listener fd to Go's runtime netpoller via
// net.Listener would fight the supervisor for control of the same fd.
package netlisten

import (
	"fmt"
	"os"

	"github.com/mdlayher/vsock"
	"golang.org/x/sys/unix"

	"github.com/Pierre-Colin/serve/internal/addrspec"
	"github.com/Pierre-Colin/serve/internal/descriptor"
)

// SockType names the -t flag's socket type.
type SockType int

const (
	TypeStream SockType = iota
	TypeDgram
	TypeSeqpacket
)

// ParseSockType maps the -t flag's textual value, defaulting to stream.
func ParseSockType(s string) (SockType, error) {
	switch s {
	case "", "stream":
		return TypeStream, nil
	case "dgram":
		return TypeDgram, nil
	case "seqpacket":
		return TypeSeqpacket, nil
	default:
		return 0, fmt.Errorf("unknown socket type %q", s)
	}
}

func (t SockType) raw() int {
	switch t {
	case TypeDgram:
		return unix.SOCK_DGRAM
	case TypeSeqpacket:
		return unix.SOCK_SEQPACKET
	default:
		return unix.SOCK_STREAM
	}
}

// sockaddrX25 mirrors Linux's struct sockaddr_x25. golang.org/x/sys/unix has
// no typed Sockaddr for AF_X25 (the family is rare enough that the package
// never grew one, and its accept(2) wrapper's address decoder has no case
// for it either), so both bind(2) (see bindX25) and accept4(2) (see
// acceptX25, in addr_linux.go) are issued as raw syscalls against this
// struct instead. X.25 support is best-effort: present only on kernels
// with the x25 module loaded.
type sockaddrX25 struct {
	family uint16
	addr   [16]byte // X25_ADDR_LEN (15) digits + NUL terminator
}

// GetListener creates, binds, and listens on a socket for spec, returning
// its fd. The returned fd is nonblocking and close-on-exec.
func GetListener(spec addrspec.Spec, typ SockType, backlog int) (int, error) {
	switch spec.Domain {
	case addrspec.DomainInet:
		return listenInet(spec, typ, backlog, false)
	case addrspec.DomainInet6:
		return listenInet(spec, typ, backlog, true)
	case addrspec.DomainUnix:
		return listenUnix(spec, typ, backlog)
	case addrspec.DomainVsock:
		return listenVsock(spec, typ, backlog)
	case addrspec.DomainX25:
		return listenX25(spec, typ, backlog)
	default:
		return -1, fmt.Errorf("unsupported address domain %q", spec.Domain)
	}
}

func listenInet(spec addrspec.Spec, typ SockType, backlog int, v6 bool) (int, error) {
	domain := unix.AF_INET
	if v6 {
		domain = unix.AF_INET6
	}

	fd, err := descriptor.QualifiedSocket(domain, typ.raw(), 0)
	if err != nil {
		return -1, fmt.Errorf("creating %s socket: %w", spec.Domain, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt(SO_REUSEADDR): %w", err)
	}

	var sa unix.Sockaddr
	if v6 {
		addr := unix.SockaddrInet6{Port: int(spec.Port)}
		ip, err := parseIP16(spec.Host)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
		addr.Addr = ip
		sa = &addr
	} else {
		addr := unix.SockaddrInet4{Port: int(spec.Port)}
		ip, err := parseIP4(spec.Host)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
		addr.Addr = ip
		sa = &addr
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s %s:%d: %w", spec.Domain, spec.Host, spec.Port, err)
	}

	if typ == TypeStream || typ == TypeSeqpacket {
		if err := unix.Listen(fd, backlog); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("listen: %w", err)
		}
	}

	return fd, nil
}

func listenUnix(spec addrspec.Spec, typ SockType, backlog int) (int, error) {
	fd, err := descriptor.QualifiedSocket(unix.AF_UNIX, typ.raw(), 0)
	if err != nil {
		return -1, fmt.Errorf("creating unix socket: %w", err)
	}

	_ = os.Remove(spec.Path)

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: spec.Path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind unix %q: %w", spec.Path, err)
	}

	if typ == TypeStream || typ == TypeSeqpacket {
		if err := unix.Listen(fd, backlog); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("listen: %w", err)
		}
	}

	return fd, nil
}

func listenVsock(spec addrspec.Spec, typ SockType, backlog int) (int, error) {
	cid := spec.VsockCID
	if cid == 0 {
		cid = vsock.CIDAny
	}

	fd, err := descriptor.QualifiedSocket(unix.AF_VSOCK, typ.raw(), 0)
	if err != nil {
		return -1, fmt.Errorf("creating vsock socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrVM{CID: cid, Port: spec.VsockPort}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind vsock %d:%d: %w", cid, spec.VsockPort, err)
	}

	if typ == TypeStream || typ == TypeSeqpacket {
		if err := unix.Listen(fd, backlog); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("listen: %w", err)
		}
	}

	return fd, nil
}

func listenX25(spec addrspec.Spec, typ SockType, backlog int) (int, error) {
	fd, err := descriptor.QualifiedSocket(unix.AF_X25, typ.raw(), 0)
	if err != nil {
		return -1, fmt.Errorf("creating x25 socket (kernel module 'x25' loaded?): %w", err)
	}

	sa := sockaddrX25{family: unix.AF_X25}
	copy(sa.addr[:], spec.X25Address)

	if err := bindX25(fd, &sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind x25 %q: %w", spec.X25Address, err)
	}

	if typ == TypeStream || typ == TypeSeqpacket {
		if err := unix.Listen(fd, backlog); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("listen: %w", err)
		}
	}

	return fd, nil
}

// AcceptRemote accepts exactly one connection off fd (a listener returned
// by GetListener), returning the new connection's nonblocking,
// close-on-exec fd and a REMOTE-formatted remote address string.
func AcceptRemote(fd int, domain addrspec.Domain) (int, string, error) {
	if domain == addrspec.DomainX25 {
		connFd, digits, err := acceptX25(fd)
		if err != nil {
			return -1, "", err
		}
		return connFd, addrspec.RemoteX25(digits), nil
	}

	connFd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}

	remote, err := remoteString(domain, sa)
	if err != nil {
		unix.Close(connFd)
		return -1, "", err
	}

	return connFd, remote, nil
}

func remoteString(domain addrspec.Domain, sa unix.Sockaddr) (string, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return addrspec.Remote(domain, ipString(v.Addr[:]), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return addrspec.Remote(domain, ipString(v.Addr[:]), uint16(v.Port)), nil
	case *unix.SockaddrUnix:
		// The sockaddr decoder reports an unbound peer as "@"; that peer has
		// no path.
		if v.Name == "@" {
			return addrspec.RemoteUnix(""), nil
		}
		return addrspec.RemoteUnix(v.Name), nil
	case *unix.SockaddrVM:
		return addrspec.RemoteVsock(v.Port, v.CID), nil
	default:
		return "", fmt.Errorf("unrecognized peer address type for domain %q", domain)
	}
}

// IsTransientAcceptError classifies an accept(2) failure that must not
// terminate the event loop: ECONNABORTED, EINTR, and EMFILE.
func IsTransientAcceptError(err error) bool {
	switch err {
	case unix.ECONNABORTED, unix.EINTR, unix.EMFILE:
		return true
	default:
		return false
	}
}

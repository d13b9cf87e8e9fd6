package netlisten

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

func parseIP4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("%q is not an IPv4 address", s)
	}
	copy(out[:], ip4)
	return out, nil
}

func parseIP16(s string) ([16]byte, error) {
	var out [16]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv6 address %q", s)
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return out, fmt.Errorf("%q is not an IPv6 address", s)
	}
	copy(out[:], ip16)
	return out, nil
}

func ipString(b []byte) string {
	return net.IP(b).String()
}

// bindX25 issues bind(2) directly since golang.org/x/sys/unix has no typed
// Sockaddr for AF_X25.
func bindX25(fd int, sa *sockaddrX25) error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(sa)), unsafe.Sizeof(*sa))
	if errno != 0 {
		return errno
	}
	return nil
}

// acceptX25 issues accept4(2) directly, the same way bindX25 issues
// bind(2) directly: unix.Accept4's anyToSockaddr has no case for AF_X25,
// so it would otherwise reject every accepted x25 connection with
// EAFNOSUPPORT. The kernel still honors the flags argument on the raw
// syscall, so the returned fd comes back nonblocking and close-on-exec
// like every other accepted connection.
func acceptX25(fd int) (int, string, error) {
	var sa sockaddrX25
	addrlen := uint32(unsafe.Sizeof(sa))
	connFd, _, errno := unix.Syscall6(unix.SYS_ACCEPT4,
		uintptr(fd), uintptr(unsafe.Pointer(&sa)), uintptr(unsafe.Pointer(&addrlen)),
		uintptr(unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC), 0, 0)
	if errno != 0 {
		return -1, "", errno
	}

	return int(connFd), x25Digits(&sa), nil
}

// x25Digits reads the NUL-terminated decimal digit string out of a
// sockaddr_x25's addr field.
func x25Digits(sa *sockaddrX25) string {
	n := 0
	for n < len(sa.addr) && sa.addr[n] != 0 {
		n++
	}
	return string(sa.addr[:n])
}

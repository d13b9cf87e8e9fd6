// Package addrspec parses and stringifies the -a address grammar: a
// space-separated token list whose first token names a socket domain,
// followed by domain-specific fields. The same grammar is used both to
// describe the listening address on the command line and to stringify an
// accepted peer address into the REMOTE environment variable handed to
// each worker.
package addrspec

import (
	"fmt"
	"strconv"
	"strings"

	shellwords "github.com/kballard/go-shellquote"
)

// Domain names the socket family tag recognized in the -a grammar. The set
// is lexicographically sorted.
type Domain string

const (
	DomainInet  Domain = "inet"
	DomainInet6 Domain = "inet6"
	DomainUnix  Domain = "unix"
	DomainVsock Domain = "vsock"
	DomainX25   Domain = "x25"
)

// maxUnixPath is conservative: Linux's sockaddr_un.sun_path is 108 bytes,
// and the path must fit strictly under that including the NUL terminator.
const maxUnixPath = 108

// maxIPv6Text bounds the textual IPv6 address length.
const maxIPv6Text = 45

// maxX25Digits bounds the x25 address's decimal digit count.
const maxX25Digits = 15

// Spec is the parsed form of an -a value.
type Spec struct {
	Domain Domain

	// inet / inet6
	Host string
	Port uint16

	// unix
	Path string

	// vsock
	VsockPort uint32
	VsockCID  uint32

	// x25
	X25Address string
}

// Default returns the default listening address: "inet 0.0.0.0 4869".
func Default() Spec {
	return Spec{Domain: DomainInet, Host: "0.0.0.0", Port: 4869}
}

// Parse interprets an -a option value.
func Parse(value string) (Spec, error) {
	tokens, err := shellwords.Split(value)
	if err != nil {
		return Spec{}, fmt.Errorf("parsing -a value %q: %w", value, err)
	}

	if len(tokens) == 0 {
		return Default(), nil
	}

	switch Domain(tokens[0]) {
	case DomainInet:
		return parseInet(tokens[1:], false)
	case DomainInet6:
		return parseInet(tokens[1:], true)
	case DomainUnix:
		return parseUnix(tokens[1:])
	case DomainVsock:
		return parseVsock(tokens[1:])
	case DomainX25:
		return parseX25(tokens[1:])
	default:
		return Spec{}, fmt.Errorf("unknown address domain %q", tokens[0])
	}
}

func parseInet(tokens []string, v6 bool) (Spec, error) {
	domain := DomainInet
	if v6 {
		domain = DomainInet6
	}

	if len(tokens) != 2 {
		return Spec{}, fmt.Errorf("%s address requires exactly <address> <port>", domain)
	}

	host := tokens[0]
	if v6 && len(host) > maxIPv6Text {
		return Spec{}, fmt.Errorf("inet6 address %q exceeds %d bytes", host, maxIPv6Text)
	}

	port, err := parsePort(tokens[1])
	if err != nil {
		return Spec{}, fmt.Errorf("%s port: %w", domain, err)
	}

	return Spec{Domain: domain, Host: host, Port: port}, nil
}

func parseUnix(tokens []string) (Spec, error) {
	path := "serve.sock"
	if len(tokens) == 1 {
		path = tokens[0]
	} else if len(tokens) > 1 {
		return Spec{}, fmt.Errorf("unix address accepts at most one path, got %d tokens", len(tokens))
	}

	if len(path) >= maxUnixPath {
		return Spec{}, fmt.Errorf("unix path %q is %d bytes, must be < %d", path, len(path), maxUnixPath)
	}

	return Spec{Domain: DomainUnix, Path: path}, nil
}

func parseVsock(tokens []string) (Spec, error) {
	if len(tokens) != 2 {
		return Spec{}, fmt.Errorf("vsock address requires exactly <port> <cid>")
	}

	port, err := strconv.ParseUint(tokens[0], 10, 32)
	if err != nil {
		return Spec{}, fmt.Errorf("vsock port: %w", err)
	}

	cid, err := strconv.ParseUint(tokens[1], 10, 32)
	if err != nil {
		return Spec{}, fmt.Errorf("vsock cid: %w", err)
	}

	return Spec{Domain: DomainVsock, VsockPort: uint32(port), VsockCID: uint32(cid)}, nil
}

func parseX25(tokens []string) (Spec, error) {
	if len(tokens) != 1 {
		return Spec{}, fmt.Errorf("x25 address requires exactly one decimal-digit token")
	}

	digits := tokens[0]
	if len(digits) == 0 || len(digits) > maxX25Digits {
		return Spec{}, fmt.Errorf("x25 address %q must be 1-%d decimal digits", digits, maxX25Digits)
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return Spec{}, fmt.Errorf("x25 address %q must be all decimal digits", digits)
		}
	}

	return Spec{Domain: DomainX25, X25Address: digits}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if n > 65535 {
		return 0, fmt.Errorf("port %d out of range 0-65535", n)
	}
	return uint16(n), nil
}

// Remote formats an inet or inet6 host/port the way the REMOTE environment
// variable presents an accepted peer address. Unix, vsock and x25 peers
// use RemoteUnix, RemoteVsock and RemoteX25.
func Remote(domain Domain, host string, port uint16) string {
	return fmt.Sprintf("%s %d", host, port)
}

// RemoteVsock formats a vsock peer address for REMOTE.
func RemoteVsock(port, cid uint32) string {
	return fmt.Sprintf("%d %d", port, cid)
}

// RemoteUnix formats a Unix peer address for REMOTE: just the path (or an
// empty string for an unbound peer, mirroring getpeername(2) on an
// anonymous client socket).
func RemoteUnix(path string) string {
	return path
}

// RemoteX25 formats an X.25 peer address for REMOTE: the digits as-is.
func RemoteX25(digits string) string {
	return digits
}

// String renders a Spec back into -a grammar form, primarily for
// diagnostics and tests.
func (s Spec) String() string {
	switch s.Domain {
	case DomainInet, DomainInet6:
		return fmt.Sprintf("%s %s %d", s.Domain, s.Host, s.Port)
	case DomainUnix:
		return fmt.Sprintf("%s %s", s.Domain, s.Path)
	case DomainVsock:
		return fmt.Sprintf("%s %d %d", s.Domain, s.VsockPort, s.VsockCID)
	case DomainX25:
		return fmt.Sprintf("%s %s", s.Domain, s.X25Address)
	default:
		return strings.TrimSpace(string(s.Domain))
	}
}

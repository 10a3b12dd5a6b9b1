//go:build linux

package sys

import (
	"net"
	"strings"
	"unsafe"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

// Endpoint is an opaque sockaddr buffer with a known size, the only shape
// the runtime needs from an address. Raw doubles as the receive buffer of
// RECVMSG, so Len carries the capacity before a receive and the exact
// sockaddr size after resolution.
type Endpoint struct {
	Raw unix.RawSockaddrAny
	Len uint32
}

func (ep *Endpoint) Name() unsafe.Pointer {
	return unsafe.Pointer(&ep.Raw)
}

func (ep *Endpoint) Family() int {
	return int(ep.Raw.Addr.Family)
}

// Reset prepares the endpoint to receive a peer address.
func (ep *Endpoint) Reset() {
	ep.Raw = unix.RawSockaddrAny{}
	ep.Len = unix.SizeofSockaddrAny
}

func (ep *Endpoint) Addr() net.Addr {
	switch ep.Raw.Addr.Family {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&ep.Raw))
		return &net.UDPAddr{IP: append(net.IP{}, sa.Addr[:]...), Port: int(ntohs(sa.Port))}
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&ep.Raw))
		return &net.UDPAddr{IP: append(net.IP{}, sa.Addr[:]...), Port: int(ntohs(sa.Port))}
	default:
		return nil
	}
}

func (ep *Endpoint) Port() int {
	switch ep.Raw.Addr.Family {
	case unix.AF_INET:
		return int(ntohs((*unix.RawSockaddrInet4)(unsafe.Pointer(&ep.Raw)).Port))
	case unix.AF_INET6:
		return int(ntohs((*unix.RawSockaddrInet6)(unsafe.Pointer(&ep.Raw)).Port))
	default:
		return 0
	}
}

func FromIPPort(ip net.IP, port int) (ep *Endpoint, err error) {
	ep = &Endpoint{}
	if ip4 := ip.To4(); ip4 != nil {
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&ep.Raw))
		sa.Family = unix.AF_INET
		sa.Port = htons(uint16(port))
		copy(sa.Addr[:], ip4)
		ep.Len = unix.SizeofSockaddrInet4
		return
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&ep.Raw))
		sa.Family = unix.AF_INET6
		sa.Port = htons(uint16(port))
		copy(sa.Addr[:], ip16)
		ep.Len = unix.SizeofSockaddrInet6
		return
	}
	err = errors.New("invalid ip")
	return
}

// ResolveEndpoint resolves a tcp or udp network address into a sockaddr
// buffer plus the socket family and type to open for it.
func ResolveEndpoint(network string, address string) (ep *Endpoint, family int, sotype int, err error) {
	address = strings.TrimSpace(address)
	proto := network
	if colon := strings.IndexByte(network, ':'); colon > -1 {
		proto = network[:colon]
	}
	var ip net.IP
	var port int
	switch proto {
	case "tcp", "tcp4", "tcp6":
		a, resolveErr := net.ResolveTCPAddr(network, address)
		if resolveErr != nil {
			err = errors.New("resolve addr failed", errors.WithWrap(resolveErr))
			return
		}
		ip, port = a.IP, a.Port
		sotype = unix.SOCK_STREAM
		break
	case "udp", "udp4", "udp6":
		a, resolveErr := net.ResolveUDPAddr(network, address)
		if resolveErr != nil {
			err = errors.New("resolve addr failed", errors.WithWrap(resolveErr))
			return
		}
		ip, port = a.IP, a.Port
		sotype = unix.SOCK_DGRAM
		break
	default:
		err = &net.AddrError{Err: "unexpected network", Addr: address}
		return
	}
	if len(ip) == 0 {
		ip = net.IPv4zero
	}
	if strings.HasSuffix(network, "6") {
		family = unix.AF_INET6
		ip = ip.To16()
	} else if ip.To4() != nil {
		family = unix.AF_INET
	} else {
		family = unix.AF_INET6
	}
	ep, err = FromIPPort(ip, port)
	return
}

// LocalEndpoint reads the bound address of a socket, for 127.0.0.1:0 style
// binds where the kernel picked the port.
func LocalEndpoint(sock int) (ep *Endpoint, err error) {
	sa, nameErr := unix.Getsockname(sock)
	if nameErr != nil {
		err = errors.New("getsockname failed", errors.WithWrap(nameErr))
		return
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ep, err = FromIPPort(append(net.IP{}, a.Addr[:]...), a.Port)
		break
	case *unix.SockaddrInet6:
		ep, err = FromIPPort(append(net.IP{}, a.Addr[:]...), a.Port)
		break
	default:
		err = errors.New("unexpected sockaddr")
		break
	}
	return
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func ntohs(v uint16) uint16 {
	return v<<8 | v>>8
}

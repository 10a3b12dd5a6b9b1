//go:build linux

package sys

import (
	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

func Socket(family int, sotype int, proto int) (fd Fd, err error) {
	sock, sockErr := unix.Socket(family, sotype|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, proto)
	if sockErr != nil {
		err = errors.New("create socket failed", errors.WithWrap(sockErr))
		return
	}
	fd = NewFd(sock)
	return
}

func SetReuse(sock int) (err error) {
	if err = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		err = errors.New("set SO_REUSEADDR failed", errors.WithWrap(err))
		return
	}
	if err = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		err = errors.New("set SO_REUSEPORT failed", errors.WithWrap(err))
		return
	}
	return
}

func Bind(sock int, ep *Endpoint) (err error) {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(sock), uintptr(ep.Name()), uintptr(ep.Len))
	if errno != 0 {
		err = errors.New("bind failed", errors.WithWrap(errno))
	}
	return
}

func Listen(sock int, backlog int) (err error) {
	if err = unix.Listen(sock, backlog); err != nil {
		err = errors.New("listen failed", errors.WithWrap(err))
	}
	return
}

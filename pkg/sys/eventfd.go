//go:build linux

package sys

import (
	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

func NewEventFd() (fd Fd, err error) {
	value, eventfdErr := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if eventfdErr != nil {
		err = errors.New("create eventfd failed", errors.WithWrap(eventfdErr))
		return
	}
	fd = NewFd(value)
	return
}

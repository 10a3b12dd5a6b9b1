//go:build linux

package sys

import (
	"syscall"
)

// Fd is a scoped file descriptor. The zero value is invalid; once Close or
// Reset runs, the previously held descriptor is released.
type Fd struct {
	value int
}

func NewFd(value int) Fd {
	return Fd{value: value + 1}
}

func (fd *Fd) Get() int {
	return fd.value - 1
}

func (fd *Fd) Valid() bool {
	return fd.value > 0
}

func (fd *Fd) Reset(value int) {
	if fd.Valid() {
		_ = syscall.Close(fd.Get())
	}
	fd.value = value + 1
}

// Release gives up ownership without closing.
func (fd *Fd) Release() int {
	value := fd.Get()
	fd.value = 0
	return value
}

func (fd *Fd) Close() (err error) {
	if fd.Valid() {
		err = syscall.Close(fd.Get())
		fd.value = 0
	}
	return
}

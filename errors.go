//go:build linux

package unio

import (
	"os"
	"syscall"

	"github.com/brickingsoft/errors"
)

var (
	// ErrCanceled reports an operation torn down before it could complete.
	ErrCanceled = errors.Define("operation canceled")
	// ErrNoMessage reports a transfer that observed zero bytes on its first
	// completion, i.e. the peer closed before sending anything.
	ErrNoMessage = errors.Define("no message available")
)

func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

func IsNoMessage(err error) bool {
	return errors.Is(err, ErrNoMessage)
}

// opError converts a negative CQE result into the error handed to the user
// continuation, keeping the POSIX errno reachable through the chain.
func opError(name string, res int32) error {
	errno := syscall.Errno(-res)
	if errno == syscall.ECANCELED {
		return ErrCanceled
	}
	return os.NewSyscallError(name, errno)
}

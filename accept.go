//go:build linux

package unio

import (
	"unsafe"

	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/brickingsoft/unio/pkg/sys"
	"golang.org/x/sys/unix"
)

type acceptOp struct {
	op Operation

	c        *Context
	fd       int
	receiver func(err error, fd int)
}

func acceptOf(op *Operation) *acceptOp {
	return (*acceptOp)(unsafe.Pointer(op))
}

func (ac *acceptOp) start() {
	if !ac.c.isLoopGoroutine() {
		ac.op.execute = acceptOnScheduleComplete
		ac.c.scheduleRemote(&ac.op)
		return
	}
	ac.startIO()
}

func acceptOnScheduleComplete(op *Operation) {
	acceptOf(op).startIO()
}

func (ac *acceptOp) startIO() {
	ok := ac.c.submitCompletionIO(&ac.op, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.OpCode = liburing.IORING_OP_ACCEPT
		sqe.Fd = int32(ac.fd)
		sqe.OpcodeFlags = uint32(unix.SOCK_NONBLOCK)
		ac.op.execute = acceptOnAccept
	})
	if !ok {
		ac.op.execute = acceptOnScheduleComplete
		ac.c.schedulePendingIO(&ac.op)
	}
}

func acceptOnAccept(op *Operation) {
	ac := acceptOf(op)
	if op.result >= 0 {
		ac.receiver(nil, int(op.result))
		return
	}
	ac.receiver(opError("accept", op.result), int(op.result))
}

// Acceptor owns a listening stream socket. The socket is created on the
// first AsyncAccept unless Listen opened it beforehand.
type Acceptor struct {
	c        *Context
	endpoint *sys.Endpoint
	fd       sys.Fd
}

func NewAcceptor(c *Context, ep *sys.Endpoint) *Acceptor {
	return &Acceptor{c: c, endpoint: ep}
}

// Endpoint returns the bound endpoint; after a 127.0.0.1:0 style bind it
// carries the port the kernel picked.
func (a *Acceptor) Endpoint() *sys.Endpoint {
	return a.endpoint
}

// Listen opens the listening socket synchronously so the bound endpoint is
// known before the first accept is armed.
func (a *Acceptor) Listen() (err error) {
	if a.fd.Valid() {
		return
	}
	fd, sockErr := sys.Socket(a.endpoint.Family(), unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if sockErr != nil {
		err = sockErr
		return
	}
	if err = a.open(fd.Get()); err != nil {
		_ = fd.Close()
		return
	}
	a.fd = fd
	return
}

func (a *Acceptor) AsyncAccept(f func(err error, conn *AsyncFile)) {
	if a.fd.Valid() {
		a.doAccept(f)
		return
	}
	AsyncSocket(a.c, a.endpoint.Family(), unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP, func(err error, fd int) {
		if err != nil {
			f(err, nil)
			return
		}
		if openErr := a.open(fd); openErr != nil {
			_ = unix.Close(fd)
			f(openErr, nil)
			return
		}
		a.fd = sys.NewFd(fd)
		a.doAccept(f)
	})
}

func (a *Acceptor) open(fd int) (err error) {
	if err = sys.SetReuse(fd); err != nil {
		return
	}
	if err = sys.Bind(fd, a.endpoint); err != nil {
		return
	}
	if err = sys.Listen(fd, 4096); err != nil {
		return
	}
	if a.endpoint.Port() == 0 {
		if local, localErr := sys.LocalEndpoint(fd); localErr == nil {
			a.endpoint = local
		}
	}
	return
}

func (a *Acceptor) doAccept(f func(err error, conn *AsyncFile)) {
	ac := &acceptOp{c: a.c, fd: a.fd.Get()}
	ac.receiver = func(err error, fd int) {
		if err != nil {
			f(err, nil)
			return
		}
		f(nil, NewAsyncFile(a.c, fd))
	}
	ac.start()
}

func (a *Acceptor) Close() error {
	return a.fd.Close()
}

//go:build linux

package unio

import (
	"unsafe"

	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/brickingsoft/unio/pkg/sys"
	"golang.org/x/sys/unix"
)

type connector struct {
	op Operation

	c        *Context
	fd       int
	endpoint *sys.Endpoint
	receiver func(err error, fd int)
}

func connectorOf(op *Operation) *connector {
	return (*connector)(unsafe.Pointer(op))
}

func (cn *connector) start() {
	if !cn.c.isLoopGoroutine() {
		cn.op.execute = connectorOnScheduleComplete
		cn.c.scheduleRemote(&cn.op)
		return
	}
	cn.startIO()
}

func connectorOnScheduleComplete(op *Operation) {
	connectorOf(op).startIO()
}

func (cn *connector) startIO() {
	ok := cn.c.submitCompletionIO(&cn.op, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.OpCode = liburing.IORING_OP_CONNECT
		sqe.Fd = int32(cn.fd)
		sqe.Off = uint64(cn.endpoint.Len)
		sqe.SetAddr(cn.endpoint.Name())
		cn.op.execute = connectorOnConnect
	})
	if !ok {
		cn.op.execute = connectorOnScheduleComplete
		cn.c.schedulePendingIO(&cn.op)
	}
}

func connectorOnConnect(op *Operation) {
	cn := connectorOf(op)
	if op.result >= 0 {
		cn.receiver(nil, cn.fd)
		return
	}
	cn.receiver(opError("connect", op.result), cn.fd)
}

func (cn *connector) openSocket(fd int) {
	cn.fd = fd
	_ = sys.SetReuse(fd)
}

// AsyncConnect creates a stream socket for the endpoint, installs it into
// file, and connects. The continuation receives the connected descriptor.
func AsyncConnect(file *AsyncFile, ep *sys.Endpoint, f func(err error, fd int)) {
	cn := &connector{c: file.Context(), endpoint: ep}
	AsyncSocket(cn.c, ep.Family(), unix.SOCK_STREAM, unix.IPPROTO_TCP, func(err error, fd int) {
		if err != nil {
			f(err, fd)
			return
		}
		cn.openSocket(fd)
		file.Reset(fd)
		cn.receiver = f
		cn.start()
	})
}

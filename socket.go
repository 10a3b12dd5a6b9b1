//go:build linux

package unio

import (
	"unsafe"

	"github.com/brickingsoft/unio/pkg/liburing"
)

type socketOp struct {
	op Operation

	c        *Context
	domain   int
	sotype   int
	proto    int
	receiver func(err error, fd int)
}

func socketOf(op *Operation) *socketOp {
	return (*socketOp)(unsafe.Pointer(op))
}

func (s *socketOp) start() {
	if !s.c.isLoopGoroutine() {
		s.op.execute = socketOnScheduleComplete
		s.c.scheduleRemote(&s.op)
		return
	}
	s.startIO()
}

func socketOnScheduleComplete(op *Operation) {
	socketOf(op).startIO()
}

func (s *socketOp) startIO() {
	ok := s.c.submitCompletionIO(&s.op, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.OpCode = liburing.IORING_OP_SOCKET
		sqe.Fd = int32(s.domain)
		sqe.Off = uint64(s.sotype)
		sqe.Len = uint32(s.proto)
		s.op.execute = socketOnComplete
	})
	if !ok {
		s.op.execute = socketOnScheduleComplete
		s.c.schedulePendingIO(&s.op)
	}
}

func socketOnComplete(op *Operation) {
	s := socketOf(op)
	if op.result >= 0 {
		s.receiver(nil, int(op.result))
		return
	}
	s.receiver(opError("socket", op.result), int(op.result))
}

// AsyncSocket creates a socket through the ring and hands the descriptor to
// the continuation.
func AsyncSocket(c *Context, domain int, sotype int, proto int, f func(err error, fd int)) {
	s := &socketOp{c: c, domain: domain, sotype: sotype, proto: proto, receiver: f}
	s.start()
}

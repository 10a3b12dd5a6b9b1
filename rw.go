//go:build linux

package unio

import (
	"unsafe"

	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/brickingsoft/unio/pkg/sys"
	"golang.org/x/sys/unix"
)

// rwOp carries every transfer shape: stream readv/writev, datagram
// recvmsg/sendmsg, and positioned file IO. A fully transfer re-submits
// itself with an advanced buffer window until the window is exhausted; the
// header is only reused after the previous completion has been consumed.
type rwOp struct {
	op Operation

	c        *Context
	fd       int
	opcode   uint8
	name     string
	full     bool
	seekable bool
	offset   uint64

	buf   []byte
	size  int
	bytes int

	iov      unix.Iovec
	msg      unix.Msghdr
	endpoint *sys.Endpoint

	receiver func(err error, n int)
}

func rwOf(op *Operation) *rwOp {
	return (*rwOp)(unsafe.Pointer(op))
}

func (rw *rwOp) datagram() bool {
	return rw.opcode == liburing.IORING_OP_RECVMSG || rw.opcode == liburing.IORING_OP_SENDMSG
}

func (rw *rwOp) init() {
	if len(rw.buf) > 0 {
		rw.iov.Base = &rw.buf[0]
	} else {
		rw.iov.Base = nil
	}
	rw.iov.SetLen(len(rw.buf))
	if rw.datagram() {
		rw.msg.Name = (*byte)(rw.endpoint.Name())
		rw.msg.Namelen = rw.endpoint.Len
		rw.msg.Iov = &rw.iov
		rw.msg.SetIovlen(1)
	}
}

func (rw *rwOp) start() {
	if !rw.c.isLoopGoroutine() {
		rw.op.execute = rwOnScheduleComplete
		rw.c.scheduleRemote(&rw.op)
		return
	}
	rw.startIO()
}

func rwOnScheduleComplete(op *Operation) {
	rwOf(op).startIO()
}

func (rw *rwOp) startIO() {
	ok := rw.c.submitCompletionIO(&rw.op, func(sqe *liburing.SubmissionQueueEntry) {
		sqe.OpCode = rw.opcode
		sqe.Fd = int32(rw.fd)
		if rw.datagram() {
			sqe.SetAddr(unsafe.Pointer(&rw.msg))
		} else {
			sqe.SetAddr(unsafe.Pointer(&rw.iov))
			sqe.Len = 1
		}
		sqe.Off = rw.offset
		rw.op.execute = rwOnIOComplete
	})
	if !ok {
		rw.op.execute = rwOnScheduleComplete
		rw.c.schedulePendingIO(&rw.op)
	}
}

func rwOnIOComplete(op *Operation) {
	rw := rwOf(op)

	if op.result < 0 {
		rw.receiver(opError(rw.name, op.result), int(op.result))
		return
	}

	n := int(op.result)
	rw.bytes += n
	if rw.seekable {
		rw.offset += uint64(n)
	}

	if !rw.full || rw.bytes == 0 || rw.bytes == rw.size {
		if rw.bytes == 0 {
			rw.receiver(ErrNoMessage, 0)
			return
		}
		rw.receiver(nil, rw.bytes)
		return
	}

	rw.buf = rw.buf[n:]
	rw.init()
	rw.start()
}

func asyncTransfer(target IO, opcode uint8, name string, full bool, offset uint64, targetOffset bool, buf []byte, f func(err error, n int)) {
	var seekTarget Seekable
	if targetOffset {
		if seekable, ok := target.(Seekable); ok {
			seekTarget = seekable
			offset = uint64(seekable.Offset())
		}
	}
	rw := &rwOp{
		c:        target.Context(),
		fd:       target.Fd(),
		opcode:   opcode,
		name:     name,
		full:     full,
		seekable: seekTarget != nil,
		offset:   offset,
		buf:      buf,
		size:     len(buf),
	}
	rw.init()
	rw.receiver = func(err error, n int) {
		if err == nil && seekTarget != nil {
			seekTarget.SetOffset(seekTarget.Offset() + int64(n))
		}
		f(err, n)
	}
	rw.start()
}

// AsyncRead reads until the buffer is full. A short completion advances the
// window and re-submits; zero bytes on the first completion reports
// ErrNoMessage.
func AsyncRead(target IO, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_READV, "readv", true, 0, true, buf, f)
}

// AsyncWrite writes the whole buffer, re-submitting on short writes.
func AsyncWrite(target IO, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_WRITEV, "writev", true, 0, true, buf, f)
}

// AsyncReadSome completes after a single transfer of any length.
func AsyncReadSome(target IO, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_READV, "readv", false, 0, true, buf, f)
}

func AsyncWriteSome(target IO, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_WRITEV, "writev", false, 0, true, buf, f)
}

// AsyncReadSomeAt reads once at the caller-supplied offset, leaving any
// target offset untouched.
func AsyncReadSomeAt(target IO, offset uint64, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_READV, "readv", false, offset, false, buf, f)
}

func AsyncWriteSomeAt(target IO, offset uint64, buf []byte, f func(err error, n int)) {
	asyncTransfer(target, liburing.IORING_OP_WRITEV, "writev", false, offset, false, buf, f)
}

// AsyncReceiveFrom receives one datagram; the sender's address lands in ep.
func AsyncReceiveFrom(target IO, buf []byte, ep *sys.Endpoint, f func(err error, n int)) {
	ep.Reset()
	rw := &rwOp{
		c:        target.Context(),
		fd:       target.Fd(),
		opcode:   liburing.IORING_OP_RECVMSG,
		name:     "recvmsg",
		buf:      buf,
		size:     len(buf),
		endpoint: ep,
	}
	rw.init()
	rw.receiver = func(err error, n int) {
		ep.Len = rw.msg.Namelen
		f(err, n)
	}
	rw.start()
}

// AsyncSendTo sends one datagram to ep.
func AsyncSendTo(target IO, buf []byte, ep *sys.Endpoint, f func(err error, n int)) {
	rw := &rwOp{
		c:        target.Context(),
		fd:       target.Fd(),
		opcode:   liburing.IORING_OP_SENDMSG,
		name:     "sendmsg",
		buf:      buf,
		size:     len(buf),
		endpoint: ep,
	}
	rw.init()
	rw.receiver = f
	rw.start()
}

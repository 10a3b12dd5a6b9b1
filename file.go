//go:build linux

package unio

import (
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/unio/pkg/sys"
	"golang.org/x/sys/unix"
)

// IO is anything the transfer operations can target: a descriptor bound to
// the context that performs its submissions.
type IO interface {
	Context() *Context
	Fd() int
}

// Seekable marks targets carrying a stream offset that the fully read and
// write operations advance after each transfer.
type Seekable interface {
	Offset() int64
	SetOffset(offset int64)
}

// AsyncFile binds a descriptor to a context.
type AsyncFile struct {
	c  *Context
	fd sys.Fd
}

func NewAsyncFile(c *Context, fd int) *AsyncFile {
	return &AsyncFile{c: c, fd: sys.NewFd(fd)}
}

func (file *AsyncFile) Context() *Context {
	return file.c
}

func (file *AsyncFile) Fd() int {
	return file.fd.Get()
}

func (file *AsyncFile) IsOpen() bool {
	return file.fd.Valid()
}

func (file *AsyncFile) Reset(fd int) {
	file.fd.Reset(fd)
}

func (file *AsyncFile) Close() error {
	return file.fd.Close()
}

func (file *AsyncFile) Shutdown(how int) error {
	return unix.Shutdown(file.Fd(), how)
}

// RandomAccessFile opens a path for positioned reads and writes; the caller
// supplies offsets explicitly.
type RandomAccessFile struct {
	AsyncFile
}

func OpenRandomAccessFile(c *Context, path string, flags int, perm uint32) (file *RandomAccessFile, err error) {
	fd, openErr := unix.Open(path, flags|unix.O_CLOEXEC, perm)
	if openErr != nil {
		err = errors.New("open file failed", errors.WithWrap(openErr))
		return
	}
	file = &RandomAccessFile{}
	file.c = c
	file.fd = sys.NewFd(fd)
	return
}

// StreamFile is a RandomAccessFile with a current offset the fully read and
// write operations advance.
type StreamFile struct {
	RandomAccessFile
	offset int64
}

func OpenStreamFile(c *Context, path string, flags int, perm uint32) (file *StreamFile, err error) {
	raf, openErr := OpenRandomAccessFile(c, path, flags, perm)
	if openErr != nil {
		err = openErr
		return
	}
	file = &StreamFile{RandomAccessFile: *raf}
	return
}

func (file *StreamFile) Offset() int64 {
	return file.offset
}

func (file *StreamFile) SetOffset(offset int64) {
	file.offset = offset
}

// DatagramSocket is a UDP socket bound at construction.
type DatagramSocket struct {
	AsyncFile
	local *sys.Endpoint
}

func NewDatagramSocket(c *Context, ep *sys.Endpoint) (sock *DatagramSocket, err error) {
	fd, sockErr := sys.Socket(ep.Family(), unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if sockErr != nil {
		err = sockErr
		return
	}
	if err = sys.SetReuse(fd.Get()); err != nil {
		_ = fd.Close()
		return
	}
	if err = sys.Bind(fd.Get(), ep); err != nil {
		_ = fd.Close()
		return
	}
	local, localErr := sys.LocalEndpoint(fd.Get())
	if localErr != nil {
		_ = fd.Close()
		err = localErr
		return
	}
	sock = &DatagramSocket{local: local}
	sock.c = c
	sock.fd = fd
	return
}

func (sock *DatagramSocket) LocalEndpoint() *sys.Endpoint {
	return sock.local
}

//go:build linux

package unio

import (
	"unsafe"
)

type postOp struct {
	op Operation

	c        *Context
	receiver func()
}

func postExecute(op *Operation) {
	(*postOp)(unsafe.Pointer(op)).receiver()
}

// Post schedules f to run on the loop goroutine exactly once. It may be
// called from any goroutine; off-loop callers go through the remote queue
// and wake the loop if it is parked.
func Post(c *Context, f func()) {
	p := &postOp{c: c, receiver: f}
	p.op.execute = postExecute
	c.schedule(&p.op)
}

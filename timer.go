//go:build linux

package unio

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/brickingsoft/unio/pkg/monoclock"
)

const (
	timerElapsedFlag  uint32 = 1
	cancelPendingFlag uint32 = 2
)

// timerOp extends the operation header with a deadline and the state word
// that arbitrates the elapsed/cancel race. The heap links are separate from
// the header link so a popped timer can sit in the local FIFO while its
// heap links are dead.
type timerOp struct {
	op Operation

	c          *Context
	deadline   monoclock.TimePoint
	cancelable bool

	heapNext *timerOp
	heapPrev *timerOp

	state    atomic.Uint32
	receiver func(err error)
}

func timerOf(op *Operation) *timerOp {
	return (*timerOp)(unsafe.Pointer(op))
}

func (t *timerOp) start() {
	if t.c.isLoopGoroutine() {
		t.startLocal()
	} else {
		t.op.execute = timerOnScheduleComplete
		t.c.scheduleRemote(&t.op)
	}
}

func (t *timerOp) startLocal() {
	t.op.execute = timerOnTimeout
	t.c.insertTimer(t)
}

func timerOnScheduleComplete(op *Operation) {
	timerOf(op).startLocal()
}

func timerOnTimeout(op *Operation) {
	timerOf(op).receiver(nil)
}

func timerOnCancel(op *Operation) {
	timerOf(op).receiver(ErrCanceled)
}

// timerRemove runs on the loop after an off-thread cancel: the timer may
// have elapsed in the meantime, in which case it already left the heap.
func timerRemove(op *Operation) {
	t := timerOf(op)
	if t.state.Load()&timerElapsedFlag == 0 {
		t.c.removeTimer(t)
	}
	t.receiver(ErrCanceled)
}

func (t *timerOp) requestStop() {
	if t.c.isLoopGoroutine() {
		t.requestStopLocal()
	} else {
		t.requestStopRemote()
	}
}

func (t *timerOp) requestStopLocal() {
	t.op.execute = timerOnCancel
	if t.state.Load()&timerElapsedFlag == 0 {
		t.c.removeTimer(t)
		t.c.scheduleLocal(&t.op)
	}
}

func (t *timerOp) requestStopRemote() {
	oldState := t.state.Or(cancelPendingFlag)
	if oldState&timerElapsedFlag == 0 {
		t.op.execute = timerRemove
		t.c.scheduleRemote(&t.op)
	}
}

// timerList keeps timers sorted by deadline. Insertion is linear; top and
// pop are O(1). Equal deadlines keep insertion order.
type timerList struct {
	head *timerOp
}

func (list *timerList) empty() bool {
	return list.head == nil
}

func (list *timerList) top() *timerOp {
	return list.head
}

func (list *timerList) pop() *timerOp {
	item := list.head
	list.head = item.heapNext
	if list.head != nil {
		list.head.heapPrev = nil
	}
	item.heapNext = nil
	return item
}

func (list *timerList) insert(item *timerOp) {
	if list.head == nil {
		list.head = item
		item.heapNext = nil
		item.heapPrev = nil
		return
	}
	if item.deadline.Before(list.head.deadline) {
		item.heapNext = list.head
		item.heapPrev = nil
		list.head.heapPrev = item
		list.head = item
		return
	}
	insertAfter := list.head
	for insertAfter.heapNext != nil && !item.deadline.Before(insertAfter.heapNext.deadline) {
		insertAfter = insertAfter.heapNext
	}
	insertBefore := insertAfter.heapNext
	item.heapPrev = insertAfter
	item.heapNext = insertBefore
	insertAfter.heapNext = item
	if insertBefore != nil {
		insertBefore.heapPrev = item
	}
}

func (list *timerList) remove(item *timerOp) {
	prev := item.heapPrev
	next := item.heapNext
	if prev != nil {
		prev.heapNext = next
	} else {
		list.head = next
	}
	if next != nil {
		next.heapPrev = prev
	}
	item.heapNext = nil
	item.heapPrev = nil
}

func (c *Context) insertTimer(t *timerOp) {
	c.timers.insert(t)
	if c.timers.top() == t {
		c.timersDirty = true
	}
}

func (c *Context) removeTimer(t *timerOp) {
	if c.timers.top() == t {
		c.timersDirty = true
	}
	c.timers.remove(t)
}

// updateTimers reconciles the kernel timeout with the head of the timer
// list: elapsed timers are delivered, and at most one TIMEOUT SQE stays in
// flight representing the earliest pending deadline.
func (c *Context) updateTimers() {
	if !c.timers.empty() {
		now := monoclock.Now()
		for !c.timers.empty() && !now.Before(c.timers.top().deadline) {
			item := c.timers.pop()
			if item.cancelable {
				oldState := item.state.Or(timerElapsedFlag)
				if oldState&cancelPendingFlag != 0 {
					continue
				}
			}
			c.scheduleLocal(&item.op)
		}
	}

	if c.timers.empty() {
		if c.currentDueTime != nil && c.submitTimerCancel() {
			c.currentDueTime = nil
			c.timersDirty = false
		}
		return
	}

	earliest := c.timers.top().deadline
	if c.currentDueTime != nil {
		// Re-arm only for a meaningfully earlier deadline; a stale arming
		// re-dirties itself when its completion arrives.
		if earliest.Before(c.currentDueTime.Add(-time.Microsecond)) {
			if c.submitTimerCancel() {
				c.currentDueTime = nil
				if c.submitTimer(earliest) {
					due := earliest
					c.currentDueTime = &due
					c.timersDirty = false
				}
			}
		} else {
			c.timersDirty = false
		}
		return
	}
	if c.submitTimer(earliest) {
		due := earliest
		c.currentDueTime = &due
		c.timersDirty = false
	}
}

func (c *Context) submitTimer(due monoclock.TimePoint) bool {
	ok := c.submitIO(func(sqe *liburing.SubmissionQueueEntry) bool {
		c.kernelTime.Sec = due.Seconds()
		c.kernelTime.Nsec = due.Nanoseconds()
		sqe.OpCode = liburing.IORING_OP_TIMEOUT
		sqe.SetAddr(unsafe.Pointer(&c.kernelTime))
		sqe.Len = 1
		sqe.OpcodeFlags = liburing.IORING_TIMEOUT_ABS
		sqe.SetData64(timerUserData)
		return true
	})
	if ok {
		c.activeTimerCount++
	}
	return ok
}

func (c *Context) submitTimerCancel() bool {
	return c.submitIO(func(sqe *liburing.SubmissionQueueEntry) bool {
		sqe.OpCode = liburing.IORING_OP_TIMEOUT_REMOVE
		sqe.Addr = timerUserData
		sqe.SetData64(timerRemoveUserData)
		return true
	})
}

// Timer is a resettable deadline handle. AsyncWait arms a fresh wait,
// cancelling the previous one if it has not fired yet; the continuation
// runs on the loop goroutine with nil on expiry or ErrCanceled.
type Timer struct {
	c        *Context
	deadline monoclock.TimePoint
	pending  *timerOp
}

func NewTimer(c *Context) *Timer {
	return &Timer{c: c}
}

func (timer *Timer) Now() monoclock.TimePoint {
	return monoclock.Now()
}

func (timer *Timer) ExpiresAt(tp monoclock.TimePoint) {
	timer.deadline = tp
}

func (timer *Timer) ExpiresAfter(d time.Duration) {
	timer.deadline = monoclock.Now().Add(d)
}

func (timer *Timer) Cancel() {
	if timer.pending != nil {
		timer.pending.requestStop()
	}
}

func (timer *Timer) AsyncWait(f func(err error)) {
	timer.Cancel()
	t := &timerOp{
		c:          timer.c,
		deadline:   timer.deadline,
		cancelable: true,
		receiver:   f,
	}
	timer.pending = t
	t.start()
}

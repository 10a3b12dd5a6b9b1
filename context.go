//go:build linux

package unio

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/unio/pkg/kernel"
	"github.com/brickingsoft/unio/pkg/liburing"
	"github.com/brickingsoft/unio/pkg/monoclock"
	"github.com/brickingsoft/unio/pkg/stop"
	"github.com/brickingsoft/unio/pkg/sys"
	"golang.org/x/sys/unix"
)

// CQE user_data sentinels. Any other value is a pointer to an operation
// header.
const (
	remoteWakeUserData  uint64 = 0
	timerUserData       uint64 = 1
	timerRemoveUserData uint64 = 2
)

// Context is a single-threaded proactor: one goroutine, pinned to an OS
// thread for the duration of Run, owns the ring, the local and pending-IO
// FIFOs, the timer list and every counter below. Other goroutines may only
// touch the remote queue and the event fd write side.
type Context struct {
	ring          *liburing.Ring
	eventFd       sys.Fd
	loopGoroutine atomic.Uint64

	local     operationQueue
	pendingIO operationQueue
	remote    remoteQueue

	timers           timerList
	currentDueTime   *monoclock.TimePoint
	kernelTime       unix.Timespec
	activeTimerCount uint32
	timersDirty      bool

	sqUnflushed         uint32
	cqPending           uint32
	remoteReadSubmitted bool

	inflight map[*Operation]struct{}
}

func New(options ...Option) (c *Context, err error) {
	opts := Options{Entries: liburing.DefaultEntries}
	for _, option := range options {
		if err = option(&opts); err != nil {
			return
		}
	}
	// The async socket operation landed in 5.19; everything else here is
	// older.
	if version := kernel.Get(); version.Valid() && !version.GTE(5, 19) {
		err = errors.New("kernel does not support the io_uring socket operation")
		return
	}
	ring, ringErr := liburing.Setup(opts.Entries)
	if ringErr != nil {
		err = ringErr
		return
	}
	eventFd, eventFdErr := sys.NewEventFd()
	if eventFdErr != nil {
		_ = ring.Close()
		err = eventFdErr
		return
	}
	c = &Context{
		ring:     ring,
		eventFd:  eventFd,
		inflight: make(map[*Operation]struct{}, ring.CQEntries()),
	}
	return
}

// Close releases the ring and the event fd. Scheduled work still sitting in
// the loop's queues is a caller error; requests held only by the kernel are
// torn down with the ring.
func (c *Context) Close() (err error) {
	if !c.local.empty() || !c.pendingIO.empty() || !c.timers.empty() {
		panic("unio: context closed with scheduled operations")
	}
	err = c.ring.Close()
	if eventFdErr := c.eventFd.Close(); eventFdErr != nil && err == nil {
		err = eventFdErr
	}
	return
}

// Run drives the loop on the calling goroutine until the token requests
// stop. The goroutine is locked to its OS thread while the loop runs.
func (c *Context) Run(token stop.Token) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.loopGoroutine.Store(goroutineID())
	defer c.loopGoroutine.Store(0)

	stopOp := stopOperation{}
	stopOp.op.execute = stopOperationExecute
	callback := stop.NewCallback(token, func() {
		c.schedule(&stopOp.op)
	})
	defer callback.Unregister()

	for {
		c.executePendingLocal()

		if stopOp.shouldStop {
			break
		}

		c.acquireCompletions()

		if c.timersDirty {
			c.updateTimers()
		}

		if !c.remoteReadSubmitted {
			c.acquireRemoteQueued()
		}

		for !c.pendingIO.empty() && c.canSubmitIO() {
			item := c.pendingIO.popFront()
			item.execute(item)
		}

		if !c.local.empty() && c.sqUnflushed == 0 {
			continue
		}

		// Block only when there is no local work and a wake-up is assured:
		// either the event fd poll is armed or the outstanding budget is
		// saturated, so a completion must arrive.
		isIdle := c.sqUnflushed == 0 && c.local.empty()
		if isIdle && !c.remoteReadSubmitted {
			c.remoteReadSubmitted = c.registerRemoteNotification()
		}

		var flags uint32
		var minComplete uint32
		if isIdle && (c.remoteReadSubmitted || c.pendingOperationCount() == c.ring.CQEntries()) {
			minComplete = 1
			flags = liburing.IORING_ENTER_GETEVENTS
		}

		submitted, enterErr := c.ring.Enter(c.sqUnflushed, minComplete, flags)
		if enterErr != nil {
			err = errors.New("run failed", errors.WithWrap(enterErr))
			return
		}
		c.sqUnflushed -= submitted
		c.cqPending += submitted
	}
	return
}

func (c *Context) isLoopGoroutine() bool {
	id := c.loopGoroutine.Load()
	return id != 0 && id == goroutineID()
}

func (c *Context) schedule(op *Operation) {
	if c.isLoopGoroutine() {
		c.scheduleLocal(op)
	} else {
		c.scheduleRemote(op)
	}
}

func (c *Context) scheduleLocal(op *Operation) {
	c.local.pushBack(op)
}

func (c *Context) scheduleLocalQueue(ops operationQueue) {
	c.local.append(ops)
}

func (c *Context) scheduleRemote(op *Operation) {
	if c.remote.enqueue(op) {
		c.signalRemoteQueue()
	}
}

func (c *Context) schedulePendingIO(op *Operation) {
	c.pendingIO.pushBack(op)
}

func (c *Context) reschedulePendingIO(op *Operation) {
	c.pendingIO.pushFront(op)
}

// executePendingLocal drains a snapshot of the local FIFO; operations
// scheduled while the batch runs execute in a later iteration.
func (c *Context) executePendingLocal() {
	if c.local.empty() {
		return
	}
	pending := c.local
	c.local = operationQueue{}
	for !pending.empty() {
		item := pending.popFront()
		item.execute(item)
	}
}

func (c *Context) acquireCompletions() {
	head := c.ring.CQHead()
	tail := c.ring.CQTail()
	if head == tail {
		return
	}
	count := tail - head

	completions := operationQueue{}
	for i := uint32(0); i < count; i++ {
		cqe := c.ring.CQE(head + i)

		switch cqe.UserData {
		case remoteWakeUserData:
			if cqe.Res < 0 {
				panic("unio: remote wake poll failed")
			}
			c.readRemoteQueueEvent()
			c.remoteReadSubmitted = false
		case timerUserData:
			c.activeTimerCount--
			if cqe.Res != -int32(syscall.ECANCELED) {
				c.timersDirty = true
			}
			if c.activeTimerCount == 0 {
				c.currentDueTime = nil
			}
		case timerRemoveUserData:
			// ack of a TIMEOUT_REMOVE
		default:
			op := (*Operation)(cqe.GetData())
			op.result = cqe.Res
			delete(c.inflight, op)
			completions.pushBack(op)
		}
	}

	c.scheduleLocalQueue(completions)
	c.ring.CQAdvanceTo(tail)
	c.cqPending -= count
}

// readRemoteQueueEvent rearms the event fd's edge: the counter must be
// consumed before the next POLL_ADD can fire again. A short or failed read
// indicates a broken fd and is fatal.
func (c *Context) readRemoteQueueEvent() {
	var buf [8]byte
	n, err := unix.Read(c.eventFd.Get(), buf[:])
	if err != nil || n != len(buf) {
		panic("unio: read remote queue event fd failed")
	}
}

func (c *Context) acquireRemoteQueued() {
	c.scheduleLocalQueue(c.remote.dequeueAll())
}

// registerRemoteNotification arms a POLL_ADD on the event fd, unless items
// raced in, in which case they are scheduled and no poll is armed.
func (c *Context) registerRemoteNotification() bool {
	return c.submitIO(func(sqe *liburing.SubmissionQueueEntry) bool {
		queued := c.remote.markInactiveOrDequeueAll()
		if !queued.empty() {
			c.scheduleLocalQueue(queued)
			return false
		}
		sqe.OpCode = liburing.IORING_OP_POLL_ADD
		sqe.Fd = int32(c.eventFd.Get())
		sqe.OpcodeFlags = uint32(unix.POLLIN)
		sqe.SetData64(remoteWakeUserData)
		return true
	})
}

func (c *Context) signalRemoteQueue() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	n, err := unix.Write(c.eventFd.Get(), buf[:])
	if err != nil || n != len(buf) {
		panic("unio: signal remote queue event fd failed")
	}
}

// submitIO fills the next SQE slot through the callable. It returns false
// when the submission ring is full, when the completion budget is
// exhausted, or when the callable itself bails out.
func (c *Context) submitIO(fill func(sqe *liburing.SubmissionQueueEntry) bool) bool {
	if c.pendingOperationCount() >= c.ring.CQEntries() {
		return false
	}
	sqe := c.ring.AcquireSQE()
	if sqe == nil {
		return false
	}
	if !fill(sqe) {
		return false
	}
	c.ring.CommitSQE()
	c.sqUnflushed++
	return true
}

// submitCompletionIO submits an SQE whose completion is dispatched back to
// op; the operation is pinned until its CQE is consumed.
func (c *Context) submitCompletionIO(op *Operation, fill func(sqe *liburing.SubmissionQueueEntry)) bool {
	ok := c.submitIO(func(sqe *liburing.SubmissionQueueEntry) bool {
		fill(sqe)
		sqe.SetData64(operationUserData(op))
		return true
	})
	if ok {
		c.inflight[op] = struct{}{}
	}
	return ok
}

func (c *Context) pendingOperationCount() uint32 {
	return c.cqPending + c.sqUnflushed
}

func (c *Context) canSubmitIO() bool {
	return c.sqUnflushed < c.ring.SQEntries() && c.pendingOperationCount() < c.ring.CQEntries()
}

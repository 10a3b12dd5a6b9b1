//go:build linux

package unio

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Operation is the header every asynchronous operation embeds as its first
// field: one link shared by the local, pending and remote queues, the
// execute hook invoked when the loop schedules the operation, and the raw
// kernel result for completion-bearing operations.
type Operation struct {
	next    *Operation
	execute func(op *Operation)
	result  int32
}

func operationUserData(op *Operation) uint64 {
	return uint64(uintptr(unsafe.Pointer(op)))
}

// operationQueue is an intrusive FIFO over operation links. Push never
// allocates; an operation is on at most one queue at a time.
type operationQueue struct {
	head *Operation
	tail *Operation
}

// makeReversed adopts a LIFO chain and returns it in FIFO order.
func makeReversed(list *Operation) operationQueue {
	var newHead *Operation
	newTail := list
	for list != nil {
		next := list.next
		list.next = newHead
		newHead = list
		list = next
	}
	return operationQueue{head: newHead, tail: newTail}
}

func (queue *operationQueue) empty() bool {
	return queue.head == nil
}

func (queue *operationQueue) popFront() *Operation {
	item := queue.head
	queue.head = item.next
	if queue.head == nil {
		queue.tail = nil
	}
	item.next = nil
	return item
}

func (queue *operationQueue) pushFront(item *Operation) {
	item.next = queue.head
	queue.head = item
	if queue.tail == nil {
		queue.tail = item
	}
}

func (queue *operationQueue) pushBack(item *Operation) {
	item.next = nil
	if queue.tail == nil {
		queue.head = item
	} else {
		queue.tail.next = item
	}
	queue.tail = item
}

func (queue *operationQueue) append(other operationQueue) {
	if other.empty() {
		return
	}
	if queue.empty() {
		queue.head = other.head
	} else {
		queue.tail.next = other.head
	}
	queue.tail = other.tail
}

// remoteInactive marks a parked consumer. A dedicated static operation is
// guaranteed distinct from every live operation pointer.
var remoteInactive = &Operation{}

// remoteQueue is the MPSC lock-free LIFO fed by non-loop goroutines. Any
// goroutine may enqueue; only the loop goroutine drains.
type remoteQueue struct {
	head atomic.Pointer[Operation]
}

// enqueue pushes an operation and reports whether the consumer was parked,
// in which case the producer must deliver a wake-up.
func (queue *remoteQueue) enqueue(op *Operation) bool {
	for {
		oldValue := queue.head.Load()
		if oldValue == remoteInactive {
			op.next = nil
		} else {
			op.next = oldValue
		}
		if queue.head.CompareAndSwap(oldValue, op) {
			return oldValue == remoteInactive
		}
	}
}

// markInactive parks the consumer, succeeding only on an empty queue.
func (queue *remoteQueue) markInactive() bool {
	if queue.head.Load() != nil {
		return false
	}
	return queue.head.CompareAndSwap(nil, remoteInactive)
}

func (queue *remoteQueue) dequeueAll() operationQueue {
	if queue.head.Load() == nil {
		return operationQueue{}
	}
	value := queue.head.Swap(nil)
	if value == remoteInactive {
		panic("unio: remote queue drained while inactive")
	}
	return makeReversed(value)
}

func (queue *remoteQueue) markInactiveOrDequeueAll() operationQueue {
	if queue.markInactive() {
		return operationQueue{}
	}
	value := queue.head.Swap(nil)
	if value == remoteInactive {
		panic("unio: remote queue drained while inactive")
	}
	return makeReversed(value)
}

// stopOperation is the sentinel scheduled by the stop callback; executing
// it flips the flag the loop checks every iteration.
type stopOperation struct {
	op         Operation
	shouldStop bool
}

func stopOperationExecute(op *Operation) {
	(*stopOperation)(unsafe.Pointer(op)).shouldStop = true
}

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

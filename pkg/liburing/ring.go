//go:build linux

package liburing

import (
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/unio/pkg/sys"
)

const DefaultEntries uint32 = 256

const (
	sysSetup = 425
	sysEnter = 426
)

const (
	offSQRing int64 = 0
	offCQRing int64 = 0x8000000
	offSQEs   int64 = 0x10000000
)

const (
	mapProt = syscall.PROT_READ | syscall.PROT_WRITE
	mapFlag = syscall.MAP_SHARED | syscall.MAP_POPULATE
)

const IORING_ENTER_GETEVENTS uint32 = 1 << 0

// Ring owns one io_uring instance: the ring descriptor, the three mapped
// regions (submission ring, completion ring, SQE array) and the cached
// indexes into each. SQE acquisition and CQ advancing may only run on the
// single submitter thread; the kernel-shared head/tail words are accessed
// with the documented acquire/release protocol.
type Ring struct {
	fd        sys.Fd
	params    Params
	sqRegion  sys.Region
	cqRegion  sys.Region
	sqeRegion sys.Region

	sqHead       *uint32
	sqTail       *uint32
	sqFlags      *uint32
	sqDropped    *uint32
	sqArray      *uint32
	sqMask       uint32
	sqEntryCount uint32
	sqes         *SubmissionQueueEntry
	pendingTail  uint32

	cqHead       *uint32
	cqTail       *uint32
	cqOverflow   *uint32
	cqMask       uint32
	cqEntryCount uint32
	cqes         *CompletionQueueEvent
}

func Setup(entries uint32) (ring *Ring, err error) {
	if entries == 0 {
		entries = DefaultEntries
	}
	params := Params{}
	fdPtr, _, errno := syscall.Syscall(sysSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		err = errors.New("io_uring_setup failed", errors.WithWrap(errno))
		return
	}
	ring = &Ring{
		fd:     sys.NewFd(int(fdPtr)),
		params: params,
	}
	syscall.CloseOnExec(ring.fd.Get())
	if err = ring.mapRings(); err != nil {
		_ = ring.Close()
		ring = nil
	}
	return
}

func (ring *Ring) mapRings() (err error) {
	params := &ring.params
	fd := ring.fd.Get()

	cqLen := uintptr(params.cqOff.cqes) + uintptr(params.cqEntries)*unsafe.Sizeof(CompletionQueueEvent{})
	if ring.cqRegion, err = sys.Map(cqLen, mapProt, mapFlag, fd, offCQRing); err != nil {
		err = errors.New("mmap completion ring failed", errors.WithWrap(err))
		return
	}
	cqBlock := ring.cqRegion.Ptr()
	ring.cqEntryCount = params.cqEntries
	ring.cqMask = *(*uint32)(unsafe.Add(cqBlock, params.cqOff.ringMask))
	ring.cqHead = (*uint32)(unsafe.Add(cqBlock, params.cqOff.head))
	ring.cqTail = (*uint32)(unsafe.Add(cqBlock, params.cqOff.tail))
	ring.cqOverflow = (*uint32)(unsafe.Add(cqBlock, params.cqOff.overflow))
	ring.cqes = (*CompletionQueueEvent)(unsafe.Add(cqBlock, params.cqOff.cqes))

	sqLen := uintptr(params.sqOff.array) + uintptr(params.sqEntries)*unsafe.Sizeof(uint32(0))
	if ring.sqRegion, err = sys.Map(sqLen, mapProt, mapFlag, fd, offSQRing); err != nil {
		err = errors.New("mmap submission ring failed", errors.WithWrap(err))
		return
	}
	sqBlock := ring.sqRegion.Ptr()
	ring.sqEntryCount = params.sqEntries
	ring.sqMask = *(*uint32)(unsafe.Add(sqBlock, params.sqOff.ringMask))
	ring.sqHead = (*uint32)(unsafe.Add(sqBlock, params.sqOff.head))
	ring.sqTail = (*uint32)(unsafe.Add(sqBlock, params.sqOff.tail))
	ring.sqFlags = (*uint32)(unsafe.Add(sqBlock, params.sqOff.flags))
	ring.sqDropped = (*uint32)(unsafe.Add(sqBlock, params.sqOff.dropped))
	ring.sqArray = (*uint32)(unsafe.Add(sqBlock, params.sqOff.array))

	sqeLen := uintptr(params.sqEntries) * unsafe.Sizeof(SubmissionQueueEntry{})
	if ring.sqeRegion, err = sys.Map(sqeLen, mapProt, mapFlag, fd, offSQEs); err != nil {
		err = errors.New("mmap sqe array failed", errors.WithWrap(err))
		return
	}
	ring.sqes = (*SubmissionQueueEntry)(ring.sqeRegion.Ptr())
	return
}

func (ring *Ring) Fd() int {
	return ring.fd.Get()
}

func (ring *Ring) SQEntries() uint32 {
	return ring.sqEntryCount
}

func (ring *Ring) CQEntries() uint32 {
	return ring.cqEntryCount
}

// AcquireSQE returns the next free, zeroed submission slot or nil when the
// submission ring is full. The slot is not visible to the kernel until
// CommitSQE publishes it.
func (ring *Ring) AcquireSQE() *SubmissionQueueEntry {
	head := atomic.LoadUint32(ring.sqHead)
	tail := atomic.LoadUint32(ring.sqTail)
	if tail-head >= ring.sqEntryCount {
		return nil
	}
	sqe := (*SubmissionQueueEntry)(unsafe.Add(unsafe.Pointer(ring.sqes), uintptr(tail&ring.sqMask)*unsafe.Sizeof(SubmissionQueueEntry{})))
	*sqe = SubmissionQueueEntry{}
	ring.pendingTail = tail
	return sqe
}

// CommitSQE publishes the slot returned by the last AcquireSQE.
func (ring *Ring) CommitSQE() {
	index := ring.pendingTail & ring.sqMask
	*(*uint32)(unsafe.Add(unsafe.Pointer(ring.sqArray), uintptr(index)*unsafe.Sizeof(uint32(0)))) = index
	atomic.StoreUint32(ring.sqTail, ring.pendingTail+1)
}

func (ring *Ring) CQHead() uint32 {
	return atomic.LoadUint32(ring.cqHead)
}

func (ring *Ring) CQTail() uint32 {
	return atomic.LoadUint32(ring.cqTail)
}

func (ring *Ring) CQE(position uint32) *CompletionQueueEvent {
	return (*CompletionQueueEvent)(unsafe.Add(unsafe.Pointer(ring.cqes), uintptr(position&ring.cqMask)*unsafe.Sizeof(CompletionQueueEvent{})))
}

// CQAdvanceTo publishes the new completion head back to the kernel.
func (ring *Ring) CQAdvanceTo(head uint32) {
	atomic.StoreUint32(ring.cqHead, head)
}

// Enter submits toSubmit entries and, with IORING_ENTER_GETEVENTS, waits
// for at least minComplete completions. EINTR is retried internally.
func (ring *Ring) Enter(toSubmit uint32, minComplete uint32, flags uint32) (uint32, error) {
	for {
		consumed, _, errno := syscall.Syscall6(
			sysEnter,
			uintptr(ring.fd.Get()),
			uintptr(toSubmit),
			uintptr(minComplete),
			uintptr(flags),
			0, 0,
		)
		if errno == 0 {
			return uint32(consumed), nil
		}
		if errno == syscall.EINTR {
			continue
		}
		return 0, errors.New("io_uring_enter failed", errors.WithWrap(errno))
	}
}

func (ring *Ring) Close() (err error) {
	_ = ring.sqeRegion.Unmap()
	_ = ring.sqRegion.Unmap()
	_ = ring.cqRegion.Unmap()
	err = ring.fd.Close()
	return
}

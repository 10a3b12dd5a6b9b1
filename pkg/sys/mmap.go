//go:build linux

package sys

import (
	"syscall"
	"unsafe"
)

// Region is a scoped mmap mapping. The zero value is empty; Unmap releases
// the mapping on every exit path and is safe to call on an empty region.
type Region struct {
	ptr  unsafe.Pointer
	size uintptr
}

func Map(size uintptr, prot int, flags int, fd int, offset int64) (region Region, err error) {
	r1, _, errno := syscall.Syscall6(syscall.SYS_MMAP, 0, size, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		err = errno
		return
	}
	region = Region{ptr: unsafe.Pointer(r1), size: size}
	return
}

func (region *Region) Ptr() unsafe.Pointer {
	return region.ptr
}

func (region *Region) Size() uintptr {
	return region.size
}

func (region *Region) Valid() bool {
	return region.ptr != nil
}

func (region *Region) Unmap() (err error) {
	if region.ptr == nil {
		return
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, uintptr(region.ptr), region.size, 0)
	if errno != 0 {
		err = errno
	}
	region.ptr = nil
	region.size = 0
	return
}

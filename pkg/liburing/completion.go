//go:build linux

package liburing

import "unsafe"

type CompletionQueueEvent struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

func (c *CompletionQueueEvent) GetData() unsafe.Pointer {
	if c.UserData == 0 {
		return nil
	}
	return unsafe.Pointer(uintptr(c.UserData))
}

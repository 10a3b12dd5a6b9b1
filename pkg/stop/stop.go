package stop

import (
	"runtime"
	"sync/atomic"

	"github.com/brickingsoft/unio/pkg/spin"
)

const (
	stopRequestedFlag uint32 = 1
	lockedFlag        uint32 = 2
)

// Source owns a list of stop callbacks and delivers each exactly once when
// stop is requested. The state word doubles as a spin lock guarding the
// list; callbacks always run with the lock released.
type Source struct {
	state              atomic.Uint32
	callbacks          *Callback
	notifyingGoroutine uint64
}

func NewSource() *Source {
	return &Source{}
}

func (source *Source) Token() Token {
	return Token{source: source}
}

func (source *Source) StopRequested() bool {
	return source.state.Load()&stopRequestedFlag != 0
}

// RequestStop transitions the source to stopped and delivers every
// registered callback. It returns true if stop had already been requested
// by an earlier call, false on the call that performed the transition.
//
// The lock is dropped around each callback so a callback may register or
// unregister other callbacks on the same source without deadlocking.
func (source *Source) RequestStop() bool {
	if !source.lockUnlessStopRequested(true) {
		return true
	}
	source.notifyingGoroutine = goroutineID()

	for source.callbacks != nil {
		callback := source.callbacks
		callback.prevPtr = nil
		source.callbacks = callback.next
		if source.callbacks != nil {
			source.callbacks.prevPtr = &source.callbacks
		}
		source.state.Store(stopRequestedFlag)

		var removedDuringCallback bool
		callback.removedDuringCallback = &removedDuringCallback

		callback.execute()

		if !removedDuringCallback {
			callback.removedDuringCallback = nil
			callback.completed.Store(true)
		}

		source.lock()
	}

	source.state.Store(stopRequestedFlag)
	return false
}

func (source *Source) lock() uint32 {
	waiter := spin.Wait{}
	oldState := source.state.Load()
	for {
		for oldState&lockedFlag != 0 {
			waiter.Wait()
			oldState = source.state.Load()
		}
		if source.state.CompareAndSwap(oldState, oldState|lockedFlag) {
			return oldState
		}
		oldState = source.state.Load()
	}
}

func (source *Source) unlock(oldState uint32) {
	source.state.Store(oldState)
}

func (source *Source) lockUnlessStopRequested(requested bool) bool {
	waiter := spin.Wait{}
	oldState := source.state.Load()
	for {
		for {
			if oldState&stopRequestedFlag != 0 {
				return false
			}
			if oldState == 0 {
				break
			}
			waiter.Wait()
			oldState = source.state.Load()
		}
		newState := lockedFlag
		if requested {
			newState |= stopRequestedFlag
		}
		if source.state.CompareAndSwap(oldState, newState) {
			return true
		}
		oldState = source.state.Load()
	}
}

func (source *Source) addCallback(callback *Callback) bool {
	if !source.lockUnlessStopRequested(false) {
		return false
	}
	callback.next = source.callbacks
	callback.prevPtr = &source.callbacks
	if source.callbacks != nil {
		source.callbacks.prevPtr = &callback.next
	}
	source.callbacks = callback
	source.unlock(0)
	return true
}

func (source *Source) removeCallback(callback *Callback) {
	oldState := source.lock()

	if callback.prevPtr != nil {
		*callback.prevPtr = callback.next
		if callback.next != nil {
			callback.next.prevPtr = callback.prevPtr
		}
		source.unlock(oldState)
		return
	}

	// Already popped by RequestStop: either this goroutine is inside the
	// callback right now, or delivery runs elsewhere and must be waited out.
	notifying := source.notifyingGoroutine
	source.unlock(oldState)

	if goroutineID() == notifying {
		if callback.removedDuringCallback != nil {
			*callback.removedDuringCallback = true
		}
		return
	}

	waiter := spin.Wait{}
	for !callback.completed.Load() {
		waiter.Wait()
	}
}

// Token is a copyable view of a Source.
type Token struct {
	source *Source
}

func (token Token) StopRequested() bool {
	return token.source != nil && token.source.StopRequested()
}

func (token Token) StopPossible() bool {
	return token.source != nil
}

// Callback is a node on a source's delivery list.
type Callback struct {
	source                *Source
	execute               func()
	next                  *Callback
	prevPtr               **Callback
	removedDuringCallback *bool
	completed             atomic.Bool
}

// NewCallback registers f with the token's source. If stop has already been
// requested, f runs synchronously on the calling goroutine before
// NewCallback returns.
func NewCallback(token Token, f func()) *Callback {
	callback := &Callback{source: token.source, execute: f}
	if callback.source != nil && !callback.source.addCallback(callback) {
		callback.source = nil
		f()
	}
	return callback
}

// Unregister removes the callback. If the callback is being delivered on
// another goroutine, Unregister spins until that delivery completes; called
// from inside the callback itself it returns immediately.
func (callback *Callback) Unregister() {
	if callback.source != nil {
		callback.source.removeCallback(callback)
		callback.source = nil
	}
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

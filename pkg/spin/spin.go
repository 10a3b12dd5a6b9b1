package spin

import (
	"runtime"
)

const yieldThreshold = 20

// Wait is a bounded spinner: the first few waits burn cycles, after the
// threshold every wait yields the processor. It never blocks in the kernel.
type Wait struct {
	count uint32
}

func (w *Wait) Wait() {
	if w.count < yieldThreshold {
		w.count++
		return
	}
	runtime.Gosched()
}

func (w *Wait) Reset() {
	w.count = 0
}

// Package spin provides the busy-wait lock shared between the realtime audio
// callback and the control goroutine.
//
// A [Lock] never parks the calling goroutine in the kernel. Every critical
// section guarded by it must therefore be short, bounded and allocation-free:
// at most O(number of channels) work on either side. Holding the lock across
// I/O, channel operations or allocations is a correctness bug, not merely a
// performance problem, because the realtime side spins until it is released.
package spin

import (
	"runtime"
	"sync/atomic"
)

// yieldAfter is the number of failed CAS attempts after which the spinning
// goroutine yields its P. Without the yield a GOMAXPROCS=1 process could spin
// forever while the holder is descheduled.
const yieldAfter = 64

// Lock is a boolean compare-and-swap spinlock. The zero value is unlocked.
// A Lock must not be copied after first use.
type Lock struct {
	_      noCopy
	locked atomic.Bool
}

// Lock acquires l, spinning until it is available.
func (l *Lock) Lock() {
	for spins := 0; !l.locked.CompareAndSwap(false, true); spins++ {
		if spins >= yieldAfter {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock acquires l if it is free and reports whether it did.
func (l *Lock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Unlock releases l. Unlocking an unlocked Lock panics.
func (l *Lock) Unlock() {
	if !l.locked.CompareAndSwap(true, false) {
		panic("spin: unlock of unlocked lock")
	}
}

// noCopy trips `go vet -copylocks` when a Lock is passed by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

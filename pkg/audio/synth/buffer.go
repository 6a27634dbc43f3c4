// Package synth implements the small just-in-time synthesized buffers that a
// channel can play instead of a static waveform.
//
// A [Buffer] holds exactly [Frames] samples and is rewritten once per
// computation cycle by its [Producer]. Ownership follows a strict marker
// protocol:
//
//	Inactive --MarkQueued--> Queued --Compute--> Active --MarkUnqueued--> Inactive
//	                           \_____________MarkUnqueued______________/
//
// At most one consumer may hold a buffer Queued or Active at a time. Breaking
// that rule is a programming error and panics.
package synth

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Frames is the fixed length of a synthesized buffer and of one computation
// cycle of the mixing engine.
const Frames = 16

// Sample is the set of sample types a [Buffer] can carry.
type Sample interface {
	~float32 | ~float64
}

// State is the ownership marker of a [Buffer].
type State uint32

const (
	// Inactive means no consumer owns the buffer.
	Inactive State = iota
	// Queued means a consumer has claimed the buffer but the producer has not
	// written data for the current cycle yet.
	Queued
	// Active means the buffer holds valid samples for the current cycle.
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Queued:
		return "queued"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Producer writes one cycle of samples. Implementations advance their own
// internal phase on every call and must not allocate or block.
type Producer[T Sample] interface {
	Fill(dst *[Frames]T)
}

// Buffer is a cache-line padded, single-owner synthesized buffer.
type Buffer[T Sample] struct {
	_ cpu.CacheLinePad

	samples  [Frames]T
	state    atomic.Uint32
	clock    bool // cycle clock bit of the last computation
	attached bool // a computation for this buffer is registered
	producer Producer[T]

	_ cpu.CacheLinePad
}

// NewBuffer returns an Inactive buffer filled by p.
func NewBuffer[T Sample](p Producer[T]) *Buffer[T] {
	if p == nil {
		panic("synth: nil producer")
	}
	return &Buffer[T]{producer: p}
}

// State returns the current ownership marker.
func (b *Buffer[T]) State() State { return State(b.state.Load()) }

// MarkQueued claims b for a consumer. It panics unless b is Inactive.
func (b *Buffer[T]) MarkQueued() {
	if !b.state.CompareAndSwap(uint32(Inactive), uint32(Queued)) {
		panic(fmt.Sprintf("synth: buffer claimed twice (state %s)", b.State()))
	}
}

// MarkUnqueued ends the current claim. It panics if b is not claimed.
func (b *Buffer[T]) MarkUnqueued() {
	if old := State(b.state.Swap(uint32(Inactive))); old == Inactive {
		panic("synth: release of unclaimed buffer")
	}
}

// Len returns [Frames].
func (b *Buffer[T]) Len() int { return Frames }

// Sample returns sample i modulo [Frames]. A buffer that has not been computed
// for the current cycle reads as silence.
func (b *Buffer[T]) Sample(i int) float32 {
	if State(b.state.Load()) != Active {
		return 0
	}
	return float32(b.samples[i%Frames])
}

// Attach marks that a computation for b has been registered and reports
// whether the caller is the first to do so. The caller must hold the engine
// lock.
func (b *Buffer[T]) Attach() bool {
	if b.attached {
		return false
	}
	b.attached = true
	return true
}

// Compute runs one computation step for the cycle identified by clock.
//
// It returns false once b is Inactive, meaning nobody owns it any more and the
// computation should be dropped. A buffer already computed for clock is left
// untouched, so calling Compute several times within one cycle is harmless.
func (b *Buffer[T]) Compute(clock bool) bool {
	st := State(b.state.Load())
	if st == Inactive {
		b.attached = false
		return false
	}
	if st == Active && b.clock == clock {
		return true
	}
	b.producer.Fill(&b.samples)
	b.clock = clock
	b.state.Store(uint32(Active))
	return true
}

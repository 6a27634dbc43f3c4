package audio

import (
	"fmt"

	"github.com/MrWong99/crossmix/pkg/audio/synth"
	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// CycleFrames is the length of one synthesis cycle. Every registered
// synthesized buffer is recomputed once per cycle.
const CycleFrames = synth.Frames

// SourceKind discriminates the buffer a [Source] refers to.
type SourceKind uint8

const (
	// SourceStatic refers to an immutable [waveform.Table]. A nil table is
	// silence.
	SourceStatic SourceKind = iota
	// SourceSynth32 refers to a float32 [synth.Buffer].
	SourceSynth32
	// SourceSynth64 refers to a float64 [synth.Buffer].
	SourceSynth64
)

func (k SourceKind) String() string {
	switch k {
	case SourceStatic:
		return "static"
	case SourceSynth32:
		return "synth32"
	case SourceSynth64:
		return "synth64"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sampler is anything that can be read sample by sample with wraparound at
// its natural length.
type Sampler interface {
	Sample(i int) float32
	Len() int
}

// Source is a reference to one of the three buffer kinds a channel can play.
// The zero value is a static source without a table, which plays silence.
type Source struct {
	kind   SourceKind
	static *waveform.Table
	s32    *synth.Buffer[float32]
	s64    *synth.Buffer[float64]
}

// Static returns a source reading t. A nil t is silence.
func Static(t *waveform.Table) Source {
	return Source{kind: SourceStatic, static: t}
}

// Synth32 returns a source reading the float32 synthesized buffer b.
func Synth32(b *synth.Buffer[float32]) Source {
	if b == nil {
		panic("audio: nil synth32 buffer")
	}
	return Source{kind: SourceSynth32, s32: b}
}

// Synth64 returns a source reading the float64 synthesized buffer b.
func Synth64(b *synth.Buffer[float64]) Source {
	if b == nil {
		panic("audio: nil synth64 buffer")
	}
	return Source{kind: SourceSynth64, s64: b}
}

// Kind returns the discriminant.
func (s Source) Kind() SourceKind { return s.kind }

// IsStatic reports whether s refers to a static waveform (or silence).
func (s Source) IsStatic() bool { return s.kind == SourceStatic }

// IsSynthesized reports whether s refers to a synthesized buffer.
func (s Source) IsSynthesized() bool { return s.kind != SourceStatic }

// Is32Bit reports whether s refers to a float32 synthesized buffer.
func (s Source) Is32Bit() bool { return s.kind == SourceSynth32 }

// AsStatic returns the table. It panics if s is not static.
func (s Source) AsStatic() *waveform.Table {
	s.must(SourceStatic)
	return s.static
}

// AsSynth32 returns the float32 buffer. It panics on any other kind.
func (s Source) AsSynth32() *synth.Buffer[float32] {
	s.must(SourceSynth32)
	return s.s32
}

// AsSynth64 returns the float64 buffer. It panics on any other kind.
func (s Source) AsSynth64() *synth.Buffer[float64] {
	s.must(SourceSynth64)
	return s.s64
}

func (s Source) must(k SourceKind) {
	if s.kind != k {
		panic(fmt.Sprintf("audio: source is %s, not %s", s.kind, k))
	}
}

// IsSilence reports whether a static source has no table or an all-zero
// table. The content of a synthesized buffer is unknown before it is computed,
// so asking a synthesized source panics.
func (s Source) IsSilence() bool {
	s.must(SourceStatic)
	return s.static == nil || s.static.Silent()
}

// Len returns the natural wraparound length of s.
func (s Source) Len() int {
	switch s.kind {
	case SourceSynth32, SourceSynth64:
		return synth.Frames
	}
	if s.static == nil || s.static.Len() == 0 {
		return 1
	}
	return s.static.Len()
}

// Sample returns sample i of s. i must be in [0, Len()).
func (s Source) Sample(i int) float32 {
	switch s.kind {
	case SourceSynth32:
		return s.s32.Sample(i)
	case SourceSynth64:
		return s.s64.Sample(i)
	}
	if s.static == nil || len(s.static.Samples) == 0 {
		return 0
	}
	return s.static.Samples[i]
}

// StartIndex returns the read position a source should start at when it
// begins playing at offset cycle within the current synthesis cycle.
// Synthesized buffers are rewritten every cycle, so their read position must
// track the cycle; static waveforms start at their first sample.
func (s Source) StartIndex(cycle int) int {
	if s.IsSynthesized() {
		return cycle % synth.Frames
	}
	return 0
}

// Claim marks a synthesized buffer as owned by a queue. Static sources need
// no claim. Claiming an already owned buffer panics.
func (s Source) Claim() {
	switch s.kind {
	case SourceSynth32:
		s.s32.MarkQueued()
	case SourceSynth64:
		s.s64.MarkQueued()
	}
}

// Release ends a claim taken with [Source.Claim].
func (s Source) Release() {
	switch s.kind {
	case SourceSynth32:
		s.s32.MarkUnqueued()
	case SourceSynth64:
		s.s64.MarkUnqueued()
	}
}

// Computer is a per-cycle computation step registered with the mixing
// engine. Compute reports false once the computation is no longer needed.
type Computer interface {
	Compute(clock bool) bool
}

// Computer returns the computation step for a synthesized source. It returns
// nil for static sources and for buffers whose computation is already
// registered. The caller must hold the engine lock.
func (s Source) Computer() Computer {
	switch s.kind {
	case SourceSynth32:
		if s.s32.Attach() {
			return s.s32
		}
	case SourceSynth64:
		if s.s64.Attach() {
			return s.s64
		}
	}
	return nil
}

// Prime computes a synthesized buffer for the running cycle identified by
// clock, so that a request admitted mid-cycle does not read silence until the
// next boundary. Static sources are left alone. The caller must hold the
// engine lock.
func (s Source) Prime(clock bool) {
	switch s.kind {
	case SourceSynth32:
		s.s32.Compute(clock)
	case SourceSynth64:
		s.s64.Compute(clock)
	}
}

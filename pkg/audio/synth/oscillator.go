package synth

import (
	"math"
	"math/rand/v2"

	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// Oscillator is a phase-accumulating [Producer] for periodic shapes. Noise
// draws from a private PCG source.
type Oscillator[T Sample] struct {
	kind  waveform.Kind
	phase float64
	inc   float64
	rng   *rand.Rand
	buf   *Buffer[T]
}

// NewOscillator returns an oscillator of the given shape and frequency
// together with the buffer it owns.
func NewOscillator[T Sample](kind waveform.Kind, frequency float64, sampleRate int) *Oscillator[T] {
	o := &Oscillator[T]{
		kind: kind,
		inc:  frequency / float64(sampleRate),
	}
	if kind == waveform.Noise {
		o.rng = rand.New(rand.NewPCG(math.Float64bits(frequency), uint64(sampleRate)))
	}
	o.buf = NewBuffer[T](o)
	return o
}

// Buffer returns the buffer o writes into.
func (o *Oscillator[T]) Buffer() *Buffer[T] { return o.buf }

// Fill implements [Producer].
func (o *Oscillator[T]) Fill(dst *[Frames]T) {
	for i := range dst {
		if o.rng != nil {
			dst[i] = T(o.rng.Float64()*2 - 1)
			continue
		}
		dst[i] = T(waveform.Shape(o.kind, o.phase))
		o.phase += o.inc
		o.phase -= math.Floor(o.phase)
	}
}

// Package device connects the mixing engine to its outputs: a pull-style
// [io.Reader] for audio backends that ask for bytes from their own callback
// thread, and an offline WAV renderer.
//
// Both drive the engine through [Stepper], the only method of which the
// realtime side ever calls.
package device

import (
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"
	"time"
)

// BytesPerSample is the size of one float32 little-endian sample.
const BytesPerSample = 4

// Stepper is the realtime surface of the mixing engine.
type Stepper interface {
	// Step writes frames interleaved frames into out.
	Step(out []float32, frames int)

	// Channels is the number of interleaved output channels.
	Channels() int

	// SampleRate is the output rate in frames per second.
	SampleRate() int
}

// Recorder receives per-step timings. It is called after Step returns.
type Recorder interface {
	StepObserved(d time.Duration, frames int)
}

type nopRecorder struct{}

func (nopRecorder) StepObserved(time.Duration, int) {}

// ReaderOption configures a [Reader].
type ReaderOption func(*Reader)

// WithRecorder sets the step timing recorder.
func WithRecorder(r Recorder) ReaderOption {
	return func(rd *Reader) { rd.rec = r }
}

// WithBufferFrames preallocates room for n frames so that typical device
// callbacks never allocate.
func WithBufferFrames(n int) ReaderOption {
	return func(rd *Reader) {
		if n > 0 {
			rd.buf = make([]float32, n*rd.s.Channels())
		}
	}
}

// Reader adapts a [Stepper] to an [io.Reader] producing interleaved float32
// little-endian PCM, the format audio backends such as oto consume. Each Read
// mixes as many whole frames as fit in p.
//
// A Reader is meant to be read by a single audio callback goroutine.
type Reader struct {
	s      Stepper
	rec    Recorder
	buf    []float32
	frames atomic.Int64
}

// NewReader returns a Reader pulling from s.
func NewReader(s Stepper, opts ...ReaderOption) *Reader {
	r := &Reader{s: s, rec: nopRecorder{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Read implements [io.Reader]. It never returns an error; the engine plays
// silence when nothing is queued.
func (r *Reader) Read(p []byte) (int, error) {
	nch := r.s.Channels()
	frames := len(p) / (BytesPerSample * nch)
	if frames == 0 {
		return 0, nil
	}
	n := frames * nch
	if len(r.buf) < n {
		r.buf = make([]float32, n)
	}
	samples := r.buf[:n]

	start := time.Now()
	r.s.Step(samples, frames)
	r.rec.StepObserved(time.Since(start), frames)

	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*BytesPerSample:], math.Float32bits(s))
	}
	r.frames.Add(int64(frames))
	return n * BytesPerSample, nil
}

// Frames returns the number of frames produced so far.
func (r *Reader) Frames() int64 { return r.frames.Load() }

var _ io.Reader = (*Reader)(nil)

// Package channel implements a single mixing voice: a queue of requests played
// back to back with sample-accurate linear crossfades between neighbours.
//
// A Channel is not safe for concurrent use. The pool that owns it serialises
// every call under its realtime lock, and every method here is bounded and
// allocation-free so that it may run inside the audio callback.
//
// Timeline of one request of duration d with crossfade half-length H:
//
//	| fade-in (H) | steady (d-2H) | fade-out (H) |
//
// The fade-out of one request and the fade-in of the next form a single
// window of 2H+1 positions. At window position j the incoming request has
// weight j/2H, so the window starts with the outgoing request alone, passes
// 0.5/0.5 at its midpoint (the first frame of the incoming request) and ends
// on the incoming request alone.
//
// A request that starts from silence has no partner to share a window with.
// Its fade-in ramps on its own from weight 0 to (H-1)/H over its first H
// frames. The queue front becomes the fade-out partner only if it is queued
// when the window opens; a request queued later waits for the fade to
// silence to finish and then starts from silence.
package channel

import (
	"errors"
	"fmt"

	"github.com/MrWong99/crossmix/pkg/audio"
)

const (
	// DefaultRampSteps is the number of frames a volume change glides over.
	DefaultRampSteps = 2000

	// DefaultBaseAmplitude scales every emitted sample, leaving headroom for
	// roughly ten channels playing at full volume.
	DefaultBaseAmplitude = 0.1

	// DefaultQueueCapacity bounds the number of pending requests.
	DefaultQueueCapacity = 64
)

var (
	// ErrInvalidCrossfade is returned for crossfade lengths that are not odd
	// and at least 3.
	ErrInvalidCrossfade = errors.New("channel: crossfade length must be odd and >= 3")

	// ErrRequestTooShort is returned for requests shorter than two crossfade
	// windows.
	ErrRequestTooShort = errors.New("channel: request shorter than two crossfade windows")

	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("channel: request queue full")

	// ErrVolumeChannels is returned when a volume vector does not match the
	// number of output channels.
	ErrVolumeChannels = errors.New("channel: volume count does not match output channels")
)

// silence is the partner of a fade that has nothing to fade into.
var silence audio.Source

// Option configures a [Channel] during construction.
type Option func(*Channel)

// WithBaseAmplitude overrides [DefaultBaseAmplitude].
func WithBaseAmplitude(a float32) Option {
	return func(c *Channel) { c.base = a }
}

// WithQueueCapacity overrides [DefaultQueueCapacity].
func WithQueueCapacity(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.queue = newFIFO(n)
		}
	}
}

// Channel is one mixing voice.
type Channel struct {
	half int // crossfade half-length H
	span int // 2H
	base float32

	cur  ticket // playing now
	prev ticket // fading out underneath cur during fade-in

	curIdx  int
	partIdx int // read position of prev during fade-in, of the queue front during fade-out

	remaining int  // frames left in cur's timeline, or audio.DurationInfinite
	fadeIn    int  // frames left in cur's fade-in
	next      bool // the fade-out partner is the queue front rather than silence
	solo      bool // cur fades in from silence on its own ramp
	releasing bool // cur is the zero-duration fade to silence
	idle      bool

	queue fifo

	vol      []float32
	target   []float32
	step     []float32
	rampLeft int

	scratch [audio.CycleFrames]float32
}

// New returns an idle channel writing to outChannels interleaved output
// channels. All storage is allocated here.
func New(outChannels int, opts ...Option) *Channel {
	if outChannels <= 0 {
		panic(fmt.Sprintf("channel: invalid output channel count %d", outChannels))
	}
	c := &Channel{
		half:   1,
		span:   2,
		base:   DefaultBaseAmplitude,
		idle:   true,
		vol:    make([]float32, outChannels),
		target: make([]float32, outChannels),
		step:   make([]float32, outChannels),
	}
	for _, o := range opts {
		o(c)
	}
	if c.queue.items == nil {
		c.queue = newFIFO(DefaultQueueCapacity)
	}
	return c
}

// Configure stops the channel and sets its crossfade window length (odd,
// >= 3) and per-output-channel volumes.
func (c *Channel) Configure(crossfade int, volumes []float32) error {
	if err := ValidateCrossfade(crossfade); err != nil {
		return err
	}
	if len(volumes) != len(c.vol) {
		return fmt.Errorf("%w: got %d, want %d", ErrVolumeChannels, len(volumes), len(c.vol))
	}
	c.Stop()
	c.half = (crossfade - 1) / 2
	c.span = 2 * c.half
	copy(c.vol, volumes)
	copy(c.target, volumes)
	c.rampLeft = 0
	return nil
}

// ValidateCrossfade checks that n is a usable crossfade window length.
func ValidateCrossfade(n int) error {
	if n < 3 || n%2 == 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCrossfade, n)
	}
	return nil
}

// Crossfade returns the crossfade window length 2H+1.
func (c *Channel) Crossfade() int { return c.span + 1 }

// Volumes returns the current per-output-channel gain. The slice is owned by
// the channel.
func (c *Channel) Volumes() []float32 { return c.vol }

// FadeInRemaining returns the number of frames left before the current
// request has fully faded in.
func (c *Channel) FadeInRemaining() int { return c.fadeIn }

// Pending returns the number of queued requests not yet playing.
func (c *Channel) Pending() int { return c.queue.len() }

// Room returns how many more requests the queue accepts.
func (c *Channel) Room() int { return len(c.queue.items) - c.queue.len() }

// IsPlaying reports whether the channel will produce or is producing output.
func (c *Channel) IsPlaying() bool { return !c.idle || c.queue.len() > 0 }

// AddRequest admits r to the end of the queue. Requests shorter than two
// crossfade windows cannot fade at both ends and are rejected.
//
// Admitting a request whose synthesized buffer is already owned elsewhere
// panics.
func (c *Channel) AddRequest(r audio.Request) error {
	if err := c.Admissible(r); err != nil {
		return err
	}
	if c.queue.full() {
		return ErrQueueFull
	}
	c.queue.push(admit(r))
	return nil
}

// Admissible reports whether r is long enough to play on this channel.
func (c *Channel) Admissible(r audio.Request) error {
	if !r.Infinite() && r.Duration < 2*c.Crossfade() {
		return fmt.Errorf("%w: %d frames, need %d", ErrRequestTooShort, r.Duration, 2*c.Crossfade())
	}
	return nil
}

// SetVolume glides the per-output-channel gain to target over steps frames.
// steps <= 0 applies target immediately.
func (c *Channel) SetVolume(target []float32, steps int) error {
	if len(target) != len(c.vol) {
		return fmt.Errorf("%w: got %d, want %d", ErrVolumeChannels, len(target), len(c.vol))
	}
	copy(c.target, target)
	if steps <= 0 {
		copy(c.vol, target)
		c.rampLeft = 0
		return nil
	}
	for i := range c.vol {
		c.step[i] = (target[i] - c.vol[i]) / float32(steps)
	}
	c.rampLeft = steps
	return nil
}

// Stop cuts the channel to silence immediately, dropping every queued
// request without a fade.
func (c *Channel) Stop() {
	c.queue.clear()
	c.prev.release()
	c.cur.release()
	c.curIdx, c.partIdx = 0, 0
	c.remaining, c.fadeIn = 0, 0
	c.next, c.releasing, c.solo = false, false, false
	c.idle = true
}

// Step mixes this channel into out, an interleaved slice of at most
// [audio.CycleFrames] frames. cycle is the position of out's first frame
// within the current synthesis cycle. It returns the number of frames the
// channel contributed; fewer than requested means it went idle.
func (c *Channel) Step(out []float32, cycle int) int {
	n := len(out) / len(c.vol)
	k := 0
	for k < n {
		if c.remaining == 0 || c.idle {
			if !c.consume(cycle + k) {
				break
			}
			continue
		}
		m := n - k
		dst := c.scratch[k:n]
		switch {
		case c.fadeIn > 0 && c.solo:
			m = min(m, c.fadeIn)
			_, c.curIdx = audio.Crossfade(dst[:m],
				&silence, 0, 0,
				&c.cur.req.Source, c.cur.req.Volume, c.curIdx,
				c.half-c.fadeIn, c.half)
			c.fadeIn -= m
		case c.fadeIn > 0:
			m = min(m, c.fadeIn)
			c.partIdx, c.curIdx = audio.Crossfade(dst[:m],
				&c.prev.req.Source, c.prev.req.Volume, c.partIdx,
				&c.cur.req.Source, c.cur.req.Volume, c.curIdx,
				c.span-c.fadeIn, c.span)
			c.fadeIn -= m
			if c.fadeIn == 0 {
				// The outgoing request is silent from here on; its buffer may
				// be reused.
				c.prev.release()
			}
		case c.remaining == audio.DurationInfinite:
			if c.queue.len() > 0 {
				c.remaining = c.half
				continue
			}
			c.curIdx = audio.Copy(dst, &c.cur.req.Source, c.cur.req.Volume, c.curIdx)
		case c.remaining > c.half:
			m = min(m, c.remaining-c.half)
			c.curIdx = audio.Copy(dst[:m], &c.cur.req.Source, c.cur.req.Volume, c.curIdx)
		default:
			m = min(m, c.remaining)
			if !c.next && c.remaining == c.half && c.queue.len() > 0 {
				c.next = true
				c.partIdx = c.queue.front().req.Source.StartIndex(cycle + k)
			}
			if c.next {
				front := c.queue.front()
				c.curIdx, c.partIdx = audio.Crossfade(dst[:m],
					&c.cur.req.Source, c.cur.req.Volume, c.curIdx,
					&front.req.Source, front.req.Volume, c.partIdx,
					c.half-c.remaining, c.span)
			} else {
				c.curIdx, _ = audio.Crossfade(dst[:m],
					&c.cur.req.Source, c.cur.req.Volume, c.curIdx,
					&silence, 0, 0,
					c.half-c.remaining, c.span)
			}
		}
		if c.remaining != audio.DurationInfinite {
			c.remaining -= m
		}
		k += m
	}
	c.emit(out, k)
	return k
}

// consume retires the current request and reports whether there is anything
// left to play. at is the synthesis-cycle position of the next frame.
func (c *Channel) consume(at int) bool {
	audible := !c.idle && !c.releasing && !c.cur.req.Silent()
	if c.queue.len() > 0 && (c.next || !audible) {
		t := c.queue.pop()
		start := t.req.Source.StartIndex(at)
		if c.next {
			// The fade-out already read the head of t.
			start = c.partIdx
		}
		c.prev.release()
		c.prev, c.partIdx = c.cur, c.curIdx
		c.cur, c.curIdx = t, start
		c.remaining = t.req.Duration
		c.fadeIn = c.half
		c.solo = !c.next
		if c.solo {
			c.prev.release()
		}
		c.next, c.releasing, c.idle = false, false, false
		return true
	}

	if audible {
		// Fade the last request out against silence through a zero-duration
		// request whose whole timeline is a fade-in.
		c.prev.release()
		c.prev, c.partIdx = c.cur, c.curIdx
		c.cur, c.curIdx = ticket{}, 0
		c.remaining = c.half
		c.fadeIn = c.half
		c.next, c.releasing, c.solo = false, true, false
		return true
	}

	c.prev.release()
	c.cur.release()
	c.remaining, c.fadeIn = 0, 0
	c.next, c.releasing, c.solo = false, false, false
	c.idle = true
	return false
}

// emit scales the first n mono frames of the scratch buffer by the base
// amplitude and the channel gain and accumulates them into out. The volume
// ramp advances one step per emitted frame.
func (c *Channel) emit(out []float32, n int) {
	nch := len(c.vol)
	for k := range n {
		s := c.scratch[k] * c.base
		frame := out[k*nch : (k+1)*nch]
		for ch := range frame {
			frame[ch] += s * c.vol[ch]
		}
		if c.rampLeft > 0 {
			c.rampLeft--
			if c.rampLeft == 0 {
				copy(c.vol, c.target)
				continue
			}
			for ch := range c.vol {
				c.vol[ch] += c.step[ch]
			}
		}
	}
}

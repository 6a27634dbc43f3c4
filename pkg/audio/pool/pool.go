// Package pool is the mixing engine: a fixed set of channels summed into one
// interleaved output buffer by a realtime step, driven by a control thread
// that opens channels, queues requests and adjusts volumes.
//
// Every operation, including [Pool.Step], runs under a single spin lock. The
// critical sections are bounded and never allocate, log or block, so the
// realtime thread can take the lock from inside an audio callback. Logging and
// metric recording happen after the lock is released.
package pool

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/crossmix/internal/spin"
	"github.com/MrWong99/crossmix/pkg/audio"
	"github.com/MrWong99/crossmix/pkg/audio/channel"
)

// MaxChannels is the number of channels a pool manages.
const MaxChannels = 255

// DefaultMaxComputations bounds the synthesized buffers computed per cycle.
const DefaultMaxComputations = 1024

// ChannelID identifies a channel within a pool.
type ChannelID uint8

// NoChannel is returned by [Pool.OpenChannel] when no channel is available.
const NoChannel ChannelID = MaxChannels

// ClosePolicy selects how an open channel ends its life.
type ClosePolicy uint8

const (
	// ManualClose keeps the channel until [Pool.CloseChannel] is called.
	ManualClose ClosePolicy = iota

	// AutoClose lets the pool reclaim the channel once it stops playing.
	AutoClose
)

// CloseMode selects how [Pool.CloseChannel] treats a playing channel.
type CloseMode uint8

const (
	// Force cuts the channel immediately.
	Force CloseMode = iota

	// Soft lets the channel finish its queue, then reclaims it.
	Soft
)

// String implements [fmt.Stringer].
func (m CloseMode) String() string {
	if m == Soft {
		return "soft"
	}
	return "force"
}

var (
	// ErrSaturated is returned when every channel is open and none can be
	// reclaimed.
	ErrSaturated = errors.New("pool: no channel available")

	// ErrUnknownChannel is returned for ids that do not name an open channel.
	ErrUnknownChannel = errors.New("pool: channel not open")

	// ErrClosing is returned by control operations after [Pool.Shutdown].
	ErrClosing = errors.New("pool: shutting down")

	// ErrRegistryFull is returned when queuing a synthesized source would
	// exceed the per-cycle computation bound.
	ErrRegistryFull = errors.New("pool: computation registry full")
)

// ChannelConfig describes a channel to open.
type ChannelConfig struct {
	// Crossfade is the crossfade window length in frames. Must be odd and >= 3.
	Crossfade int

	// Volumes holds one gain per output channel.
	Volumes []float32

	// Policy controls whether the pool may reclaim the channel once idle.
	Policy ClosePolicy
}

// PostProcessor transforms each mixed output frame in place. It runs under
// the realtime lock and must be bounded and allocation-free.
type PostProcessor interface {
	Process(frame []float32)
}

// Recorder receives engine events for metrics. Calls happen outside the
// realtime lock on the control thread.
type Recorder interface {
	ChannelOpened(reclaimed bool)
	OpenRejected()
	ChannelClosed(mode CloseMode)
	RequestsQueued(n int)
	RequestRejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ChannelOpened(bool)      {}
func (nopRecorder) OpenRejected()           {}
func (nopRecorder) ChannelClosed(CloseMode) {}
func (nopRecorder) RequestsQueued(int)      {}
func (nopRecorder) RequestRejected(string)  {}

// Option configures a [Pool].
type Option func(*Pool)

// WithLogger sets the logger for control-thread events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.rec = r }
}

// WithPostProcessor appends post-processors run on every mixed frame, in
// order.
func WithPostProcessor(pp ...PostProcessor) Option {
	return func(p *Pool) { p.post = append(p.post, pp...) }
}

// WithMaxComputations sets the computation registry capacity.
func WithMaxComputations(n int) Option {
	return func(p *Pool) { p.maxComp = n }
}

// WithChannelOptions passes options to every channel the pool creates.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(p *Pool) { p.chOpts = append(p.chOpts, opts...) }
}

// Pool owns [MaxChannels] channels and mixes them into an interleaved output
// buffer.
type Pool struct {
	lock spin.Lock

	outChannels int
	sampleRate  int

	channels [MaxChannels]*channel.Channel
	open     [MaxChannels]bool
	free     []ChannelID
	auto     []ChannelID

	computations []audio.Computer
	clock        bool
	cycle        int

	closing  bool
	fadeLeft int
	mute     []float32

	post    []PostProcessor
	maxComp int
	chOpts  []channel.Option
	log     *slog.Logger
	rec     Recorder
}

// New creates a pool mixing into outChannels interleaved output channels at
// sampleRate frames per second. All channels and bookkeeping are allocated
// here; no later operation allocates under the lock.
func New(outChannels, sampleRate int, opts ...Option) (*Pool, error) {
	if outChannels <= 0 {
		return nil, fmt.Errorf("pool: output channels must be positive, got %d", outChannels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("pool: sample rate must be positive, got %d", sampleRate)
	}
	p := &Pool{
		outChannels: outChannels,
		sampleRate:  sampleRate,
		maxComp:     DefaultMaxComputations,
		log:         slog.Default(),
		rec:         nopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.maxComp <= 0 {
		return nil, fmt.Errorf("pool: max computations must be positive, got %d", p.maxComp)
	}

	p.free = make([]ChannelID, 0, MaxChannels)
	for id := MaxChannels - 1; id >= 0; id-- {
		p.free = append(p.free, ChannelID(id))
	}
	p.auto = make([]ChannelID, 0, MaxChannels)
	p.computations = make([]audio.Computer, 0, p.maxComp)
	p.mute = make([]float32, outChannels)
	for i := range p.channels {
		p.channels[i] = channel.New(outChannels, p.chOpts...)
	}
	return p, nil
}

// Channels returns the number of interleaved output channels.
func (p *Pool) Channels() int { return p.outChannels }

// SampleRate returns the output sample rate in frames per second.
func (p *Pool) SampleRate() int { return p.sampleRate }

// OpenChannel configures and returns a free channel. When none is free, an
// auto-closing channel that has stopped playing is reclaimed. A channel that
// is still playing is never handed out.
func (p *Pool) OpenChannel(cfg ChannelConfig) (ChannelID, error) {
	if err := channel.ValidateCrossfade(cfg.Crossfade); err != nil {
		return NoChannel, err
	}
	if len(cfg.Volumes) != p.outChannels {
		return NoChannel, fmt.Errorf("%w: got %d, want %d", channel.ErrVolumeChannels, len(cfg.Volumes), p.outChannels)
	}

	p.lock.Lock()
	if p.closing {
		p.lock.Unlock()
		return NoChannel, ErrClosing
	}
	id, reclaimed, ok := p.allocLocked()
	if !ok {
		p.lock.Unlock()
		p.rec.OpenRejected()
		p.log.Warn("pool: channel open rejected", "open", MaxChannels)
		return NoChannel, ErrSaturated
	}
	// Validated above, so Configure cannot fail.
	_ = p.channels[id].Configure(cfg.Crossfade, cfg.Volumes)
	p.open[id] = true
	if cfg.Policy == AutoClose {
		p.auto = append(p.auto, id)
	}
	p.lock.Unlock()

	p.rec.ChannelOpened(reclaimed)
	p.log.Debug("pool: channel opened", "channel", id, "crossfade", cfg.Crossfade, "reclaimed", reclaimed)
	return id, nil
}

// CloseChannel closes id. Force cuts it immediately. Soft lets a playing
// channel finish its queue before the pool reclaims it; an idle channel is
// released at once.
func (p *Pool) CloseChannel(id ChannelID, mode CloseMode) error {
	p.lock.Lock()
	if !p.isOpenLocked(id) {
		p.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	ch := p.channels[id]
	if mode == Soft && ch.IsPlaying() {
		if !p.isAutoLocked(id) {
			p.auto = append(p.auto, id)
		}
	} else {
		ch.Stop()
		p.releaseLocked(id)
	}
	p.lock.Unlock()

	p.rec.ChannelClosed(mode)
	p.log.Debug("pool: channel closed", "channel", id, "mode", mode)
	return nil
}

// Play queues reqs on channel id in order. Either all requests are queued or
// none are. Synthesized sources are claimed by the channel and their
// computations registered in the same critical section.
func (p *Pool) Play(id ChannelID, reqs ...audio.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	synthesized := 0
	for _, r := range reqs {
		if r.Source.IsSynthesized() {
			synthesized++
		}
	}

	if err := p.enqueue(id, reqs, synthesized); err != nil {
		p.rec.RequestRejected(rejectReason(err))
		p.log.Debug("pool: requests rejected", "channel", id, "count", len(reqs), "err", err)
		return err
	}
	p.rec.RequestsQueued(len(reqs))
	return nil
}

// enqueue admits reqs under the engine lock. A double claim panics inside the
// critical section, so the lock is released on unwind.
func (p *Pool) enqueue(id ChannelID, reqs []audio.Request, synthesized int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.playLocked(id, reqs, synthesized)
}

func (p *Pool) playLocked(id ChannelID, reqs []audio.Request, synthesized int) error {
	if p.closing {
		return ErrClosing
	}
	if !p.isOpenLocked(id) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	ch := p.channels[id]
	if ch.Room() < len(reqs) {
		return channel.ErrQueueFull
	}
	if len(p.computations)+synthesized > cap(p.computations) {
		return ErrRegistryFull
	}
	for _, r := range reqs {
		if err := ch.Admissible(r); err != nil {
			return err
		}
	}
	for _, r := range reqs {
		// Admission claims the buffer, so a double claim panics before the
		// computation is registered.
		if err := ch.AddRequest(r); err != nil {
			return err
		}
		if c := r.Source.Computer(); c != nil {
			p.computations = append(p.computations, c)
		}
		if p.cycle != 0 {
			// Mid-cycle: the request may start before the next boundary
			// recomputes it.
			r.Source.Prime(p.clock)
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrClosing):
		return "closing"
	case errors.Is(err, ErrUnknownChannel):
		return "unknown_channel"
	case errors.Is(err, channel.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrRegistryFull):
		return "registry_full"
	case errors.Is(err, channel.ErrRequestTooShort):
		return "too_short"
	default:
		return "other"
	}
}

// SetVolume glides channel id to volumes over steps frames.
func (p *Pool) SetVolume(id ChannelID, volumes []float32, steps int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closing {
		return ErrClosing
	}
	if !p.isOpenLocked(id) {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return p.channels[id].SetVolume(volumes, steps)
}

// Queued returns the number of requests waiting behind the one playing on
// channel id.
func (p *Pool) Queued(id ChannelID) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.isOpenLocked(id) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return p.channels[id].Pending(), nil
}

// IsPlaying reports whether channel id is open and producing output.
func (p *Pool) IsPlaying(id ChannelID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.isOpenLocked(id) && p.channels[id].IsPlaying()
}

// CrossfadeMillis returns the crossfade window of channel id in milliseconds.
func (p *Pool) CrossfadeMillis(id ChannelID) (float64, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.isOpenLocked(id) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return float64(p.channels[id].Crossfade()) * 1000 / float64(p.sampleRate), nil
}

// OpenCount returns the number of open channels, including soft-closed ones
// that are still draining.
func (p *Pool) OpenCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return MaxChannels - len(p.free)
}

// Shutdown starts the closing fade: every open channel glides to silence over
// frames frames and further control operations are refused. Output continues
// until the caller stops stepping.
func (p *Pool) Shutdown(frames int) {
	p.lock.Lock()
	if !p.closing {
		p.closing = true
		p.fadeLeft = max(frames, 0)
		for id, ch := range p.channels {
			if p.open[id] {
				_ = ch.SetVolume(p.mute, frames)
			}
		}
	}
	p.lock.Unlock()
	p.log.Info("pool: shutting down", "fade_frames", frames)
}

// Closing reports whether [Pool.Shutdown] has been called.
func (p *Pool) Closing() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closing
}

// FadedOut reports whether the closing fade has fully elapsed.
func (p *Pool) FadedOut() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closing && p.fadeLeft == 0
}

// Step mixes frames frames into out, which must hold at least
// frames*Channels() samples. Synthesized buffers are recomputed at each cycle
// boundary, so splitting a cycle across calls produces the same output as a
// single call.
func (p *Pool) Step(out []float32, frames int) {
	nch := p.outChannels
	out = out[:frames*nch]

	p.lock.Lock()
	clear(out)
	for done := 0; done < frames; {
		if p.cycle == 0 {
			p.clock = !p.clock
			p.computeLocked()
		}
		n := min(audio.CycleFrames-p.cycle, frames-done)
		seg := out[done*nch : (done+n)*nch]
		for id, ch := range p.channels {
			if p.open[id] {
				ch.Step(seg, p.cycle)
			}
		}
		p.cycle = (p.cycle + n) % audio.CycleFrames
		done += n
	}
	if p.fadeLeft > 0 {
		p.fadeLeft = max(p.fadeLeft-frames, 0)
	}
	for _, pp := range p.post {
		for f := 0; f < frames; f++ {
			pp.Process(out[f*nch : (f+1)*nch])
		}
	}
	p.lock.Unlock()
}

// computeLocked runs every registered computation and drops those that
// report they are finished.
func (p *Pool) computeLocked() {
	live := p.computations[:0]
	for _, c := range p.computations {
		if c.Compute(p.clock) {
			live = append(live, c)
		}
	}
	clear(p.computations[len(live):])
	p.computations = live
}

// Computations returns the number of registered computations.
func (p *Pool) Computations() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.computations)
}

func (p *Pool) isOpenLocked(id ChannelID) bool {
	return id < MaxChannels && p.open[id]
}

func (p *Pool) isAutoLocked(id ChannelID) bool {
	for _, a := range p.auto {
		if a == id {
			return true
		}
	}
	return false
}

// allocLocked takes a free channel, or reclaims the first auto-closing
// channel that is no longer playing.
func (p *Pool) allocLocked() (id ChannelID, reclaimed, ok bool) {
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
		return id, false, true
	}
	for i, a := range p.auto {
		if !p.channels[a].IsPlaying() {
			p.auto = append(p.auto[:i], p.auto[i+1:]...)
			return a, true, true
		}
	}
	return NoChannel, false, false
}

func (p *Pool) releaseLocked(id ChannelID) {
	for i, a := range p.auto {
		if a == id {
			p.auto = append(p.auto[:i], p.auto[i+1:]...)
			break
		}
	}
	p.open[id] = false
	p.free = append(p.free, id)
}

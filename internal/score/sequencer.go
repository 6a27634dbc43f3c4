// Package score drives the mixing engine from configuration. A [Sequencer]
// opens one channel per configured voice, keeps each channel's queue topped up
// with the voice's notes, repeats looping voices, applies hot-reloaded changes
// and closes voices when the score ends.
//
// The sequencer is a control-thread client of the engine. It never touches
// the realtime path directly.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/crossmix/internal/config"
	"github.com/MrWong99/crossmix/pkg/audio"
	"github.com/MrWong99/crossmix/pkg/audio/pool"
	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// DefaultTick is how often [Sequencer.Run] refills channel queues.
const DefaultTick = 10 * time.Millisecond

// Engine is the control surface the sequencer needs from the mixing engine.
type Engine interface {
	OpenChannel(cfg pool.ChannelConfig) (pool.ChannelID, error)
	CloseChannel(id pool.ChannelID, mode pool.CloseMode) error
	Play(id pool.ChannelID, reqs ...audio.Request) error
	SetVolume(id pool.ChannelID, volumes []float32, steps int) error
	Queued(id pool.ChannelID) (int, error)
	IsPlaying(id pool.ChannelID) bool
}

// Option configures a [Sequencer].
type Option func(*Sequencer)

// WithLogger sets the logger for voice lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.log = l }
}

// WithCache shares a waveform table cache with other users.
func WithCache(c *waveform.Cache) Option {
	return func(s *Sequencer) { s.cache = c }
}

// VoiceStatus is a snapshot of one voice.
type VoiceStatus struct {
	Name    string         `json:"name"`
	Channel pool.ChannelID `json:"channel"`
	Playing bool           `json:"playing"`
	Queued  int            `json:"queued"`
	Passes  int            `json:"passes"`
	Done    bool           `json:"done"`
}

type voice struct {
	cfg     config.VoiceConfig
	id      pool.ChannelID
	pending []audio.Request
	passes  int
	done    bool
}

// Sequencer plays a score on an [Engine]. It is safe for concurrent use.
type Sequencer struct {
	eng   Engine
	ecfg  config.EngineConfig
	cache *waveform.Cache
	log   *slog.Logger

	mu     sync.Mutex
	voices []*voice
}

// New returns a sequencer for eng, sized by ecfg.
func New(eng Engine, ecfg config.EngineConfig, opts ...Option) *Sequencer {
	s := &Sequencer{eng: eng, ecfg: ecfg, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = waveform.NewCache()
	}
	return s
}

// Load starts every voice in vs. Voices that fail to start are reported in
// the joined error; the others keep playing.
func (s *Sequencer) Load(vs []config.VoiceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	var errs []error
	for _, vc := range vs {
		if err := s.startLocked(vc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run refills queues every interval until ctx is done.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick tops up every voice's channel queue, starts the next pass of looping
// voices and retires voices that have finished.
func (s *Sequencer) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	for _, v := range s.voices {
		if v.done {
			continue
		}
		if err := s.feedLocked(v); err != nil {
			if errors.Is(err, pool.ErrClosing) {
				return
			}
			s.log.Warn("score: feeding voice failed", "voice", v.cfg.Name, "channel", v.id, "err", err)
		}
	}
}

// Apply reconciles the running voices with cfg using d. Volume changes glide
// over the configured ramp; note changes take effect from the next pass;
// crossfade and loop changes restart the voice.
func (s *Sequencer) Apply(d config.ConfigDiff, cfg *config.Config) error {
	if !d.VoicesChanged {
		return nil
	}
	byName := make(map[string]config.VoiceConfig, len(cfg.Score))
	for _, vc := range cfg.Score {
		byName[vc.Name] = vc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	var errs []error
	for _, vd := range d.VoiceChanges {
		v := s.findLocked(vd.Name)
		switch {
		case vd.Removed:
			if v != nil {
				errs = append(errs, s.closeLocked(v, v.cfg.Close))
			}
		case vd.Added || v == nil:
			errs = append(errs, s.startLocked(byName[vd.Name]))
		default:
			errs = append(errs, s.updateLocked(v, byName[vd.Name], vd))
		}
	}
	return errors.Join(errs...)
}

// Stop closes every running voice with its configured close mode.
func (s *Sequencer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, v := range s.voices {
		if !v.done {
			errs = append(errs, s.closeLocked(v, v.cfg.Close))
		}
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of every voice, in start order.
func (s *Sequencer) Status() []VoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VoiceStatus, 0, len(s.voices))
	for _, v := range s.voices {
		st := VoiceStatus{Name: v.cfg.Name, Channel: v.id, Passes: v.passes, Done: v.done}
		if !v.done {
			st.Playing = s.eng.IsPlaying(v.id)
			st.Queued, _ = s.eng.Queued(v.id)
		}
		out = append(out, st)
	}
	return out
}

func (s *Sequencer) startLocked(vc config.VoiceConfig) error {
	policy := pool.ManualClose
	if !vc.Loop {
		policy = pool.AutoClose
	}
	id, err := s.eng.OpenChannel(pool.ChannelConfig{
		Crossfade: vc.Crossfade,
		Volumes:   vc.Volumes,
		Policy:    policy,
	})
	if err != nil {
		return fmt.Errorf("score: open voice %q: %w", vc.Name, err)
	}
	// A finished auto-closing voice may have been reclaimed for this one.
	for _, other := range s.voices {
		if !other.done && other.id == id {
			other.done = true
		}
	}

	v := &voice{cfg: vc, id: id}
	s.dropLocked(vc.Name)
	s.voices = append(s.voices, v)
	s.log.Info("score: voice started", "voice", vc.Name, "channel", id, "loop", vc.Loop, "notes", len(vc.Notes))
	return s.feedLocked(v)
}

func (s *Sequencer) updateLocked(v *voice, vc config.VoiceConfig, vd config.VoiceDiff) error {
	// The close policy follows Loop, so a loop change needs a new channel too.
	if vc.Crossfade != v.cfg.Crossfade || vc.Loop != v.cfg.Loop {
		if err := s.closeLocked(v, config.CloseSoft); err != nil {
			return err
		}
		return s.startLocked(vc)
	}
	if vd.VolumesChanged {
		if err := s.eng.SetVolume(v.id, vc.Volumes, s.ecfg.VolumeRampSteps); err != nil {
			return fmt.Errorf("score: set volume of voice %q: %w", vc.Name, err)
		}
	}
	v.cfg = vc
	s.log.Info("score: voice updated", "voice", vc.Name, "channel", v.id,
		"volumes", vd.VolumesChanged, "notes", vd.NotesChanged)
	return nil
}

// feedLocked queues as many pending requests as the channel accepts, building
// the next pass first if the voice loops and the current pass is exhausted.
func (s *Sequencer) feedLocked(v *voice) error {
	queued, err := s.eng.Queued(v.id)
	if err != nil {
		return err
	}
	if len(v.pending) == 0 {
		if queued > 0 || (v.passes > 0 && !v.cfg.Loop) {
			return nil
		}
		reqs, err := Requests(v.cfg, s.ecfg.SampleRate, s.cache)
		if err != nil {
			return err
		}
		v.pending = reqs
		v.passes++
	}

	n := min(len(v.pending), s.ecfg.QueueCapacity-queued)
	if n <= 0 {
		return nil
	}
	if err := s.eng.Play(v.id, v.pending[:n]...); err != nil {
		return fmt.Errorf("score: queue %d notes on voice %q: %w", n, v.cfg.Name, err)
	}
	v.pending = v.pending[n:]
	return nil
}

// reapLocked retires one-shot voices whose channel has stopped playing.
func (s *Sequencer) reapLocked() {
	for _, v := range s.voices {
		if v.done || v.cfg.Loop || len(v.pending) > 0 || s.eng.IsPlaying(v.id) {
			continue
		}
		if err := s.eng.CloseChannel(v.id, pool.Force); err != nil && !errors.Is(err, pool.ErrUnknownChannel) {
			s.log.Warn("score: closing finished voice failed", "voice", v.cfg.Name, "channel", v.id, "err", err)
		}
		v.done = true
		s.log.Debug("score: voice finished", "voice", v.cfg.Name, "channel", v.id)
	}
}

func (s *Sequencer) closeLocked(v *voice, mode config.CloseMode) error {
	m := pool.Soft
	if mode == config.CloseForce {
		m = pool.Force
	}
	v.done = true
	v.pending = nil
	if err := s.eng.CloseChannel(v.id, m); err != nil && !errors.Is(err, pool.ErrUnknownChannel) {
		return fmt.Errorf("score: close voice %q: %w", v.cfg.Name, err)
	}
	s.log.Info("score: voice closed", "voice", v.cfg.Name, "channel", v.id, "mode", m)
	return nil
}

func (s *Sequencer) findLocked(name string) *voice {
	for _, v := range s.voices {
		if v.cfg.Name == name && !v.done {
			return v
		}
	}
	return nil
}

// dropLocked forgets finished voices named name so that status shows only the
// latest incarnation.
func (s *Sequencer) dropLocked(name string) {
	kept := s.voices[:0]
	for _, v := range s.voices {
		if v.done && v.cfg.Name == name {
			continue
		}
		kept = append(kept, v)
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}

package score_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/crossmix/internal/config"
	"github.com/MrWong99/crossmix/internal/score"
	"github.com/MrWong99/crossmix/pkg/audio"
	"github.com/MrWong99/crossmix/pkg/audio/channel"
	"github.com/MrWong99/crossmix/pkg/audio/pool"
	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// One frame per millisecond keeps durations readable.
const rate = 1000

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func engineConfig(queue int) config.EngineConfig {
	return config.EngineConfig{
		SampleRate:      rate,
		OutputChannels:  1,
		QueueCapacity:   queue,
		VolumeRampSteps: 10,
	}
}

func newPool(t *testing.T, queue int) *pool.Pool {
	t.Helper()
	p, err := pool.New(1, rate, pool.WithChannelOptions(channel.WithQueueCapacity(queue)), pool.WithLogger(quiet))
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	return p
}

func note(d time.Duration) config.NoteConfig {
	return config.NoteConfig{Wave: "square", Period: 8, Duration: d}
}

func voiceCfg(name string, loop bool, notes ...config.NoteConfig) config.VoiceConfig {
	return config.VoiceConfig{
		Name:      name,
		Crossfade: 3,
		Volumes:   []float32{1},
		Close:     config.CloseSoft,
		Loop:      loop,
		Notes:     notes,
	}
}

func step(p *pool.Pool, frames int) {
	out := make([]float32, frames)
	p.Step(out, frames)
}

func status(t *testing.T, s *score.Sequencer, name string) score.VoiceStatus {
	t.Helper()
	for _, st := range s.Status() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("voice %q not found", name)
	return score.VoiceStatus{}
}

func TestRequests(t *testing.T) {
	t.Parallel()
	half := float32(0.5)
	vc := voiceCfg("v", false,
		config.NoteConfig{Wave: "sine", Frequency: 100, Duration: 50 * time.Millisecond, Volume: &half},
		config.NoteConfig{Wave: "sine", Period: 10, Duration: 20 * time.Millisecond},
		config.NoteConfig{Wave: "saw", Synth: config.PrecisionFloat32, Frequency: 50, Duration: 20 * time.Millisecond},
		config.NoteConfig{Wave: "saw", Synth: config.PrecisionFloat64, Frequency: 50, Duration: 20 * time.Millisecond},
		config.NoteConfig{Rest: true, Duration: 30 * time.Millisecond},
		config.NoteConfig{Wave: "triangle", Period: 4, Hold: true},
	)
	cache := waveform.NewCache()
	reqs, err := score.Requests(vc, rate, cache)
	if err != nil {
		t.Fatalf("Requests: %v", err)
	}
	if len(reqs) != 6 {
		t.Fatalf("got %d requests, want 6", len(reqs))
	}

	if reqs[0].Duration != 50 || reqs[0].Volume != 0.5 {
		t.Errorf("reqs[0] = duration %d volume %v, want 50 0.5", reqs[0].Duration, reqs[0].Volume)
	}
	if reqs[0].Source.AsStatic() != reqs[1].Source.AsStatic() {
		t.Error("frequency 100 at 1 kHz and period 10 should share one cached table")
	}
	if cache.Len() != 2 {
		t.Errorf("cache holds %d tables, want 2", cache.Len())
	}
	if reqs[1].Volume != 1 {
		t.Errorf("default volume = %v, want 1", reqs[1].Volume)
	}
	if reqs[2].Source.Kind() != audio.SourceSynth32 || reqs[3].Source.Kind() != audio.SourceSynth64 {
		t.Errorf("synth kinds = %v, %v", reqs[2].Source.Kind(), reqs[3].Source.Kind())
	}
	if !reqs[4].Silent() || reqs[4].Duration != 30 {
		t.Errorf("rest = %+v, want silent 30 frames", reqs[4])
	}
	if !reqs[5].Infinite() {
		t.Errorf("hold note duration = %d, want infinite", reqs[5].Duration)
	}

	again, err := score.Requests(vc, rate, cache)
	if err != nil {
		t.Fatalf("Requests: %v", err)
	}
	if again[2].Source.AsSynth32() == reqs[2].Source.AsSynth32() {
		t.Error("synthesized notes must get a fresh buffer per pass")
	}
}

func TestRequests_BadWave(t *testing.T) {
	t.Parallel()
	vc := voiceCfg("v", false, config.NoteConfig{Wave: "kazoo", Period: 4, Duration: time.Second})
	if _, err := score.Requests(vc, rate, waveform.NewCache()); err == nil {
		t.Fatal("expected error for unknown wave")
	}
}

func TestSequencer_LoopingVoiceQueuesNextPass(t *testing.T) {
	t.Parallel()
	p := newPool(t, 64)
	s := score.New(p, engineConfig(64), score.WithLogger(quiet))

	if err := s.Load([]config.VoiceConfig{voiceCfg("lead", true, note(20*time.Millisecond), note(20*time.Millisecond))}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := status(t, s, "lead")
	if st.Queued != 2 || st.Passes != 1 {
		t.Fatalf("after load: %+v, want 2 queued, pass 1", st)
	}

	step(p, 5)
	s.Tick()
	if st := status(t, s, "lead"); st.Queued != 1 || st.Passes != 1 {
		t.Fatalf("during first note: %+v, want 1 queued, pass 1", st)
	}

	step(p, 20)
	s.Tick()
	st = status(t, s, "lead")
	if st.Queued != 2 || st.Passes != 2 || !st.Playing {
		t.Fatalf("after second note started: %+v, want 2 queued, pass 2", st)
	}
}

func TestSequencer_OneShotVoiceFinishes(t *testing.T) {
	t.Parallel()
	p := newPool(t, 64)
	s := score.New(p, engineConfig(64), score.WithLogger(quiet))

	if err := s.Load([]config.VoiceConfig{voiceCfg("blip", false, note(20*time.Millisecond))}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Tick()
	if st := status(t, s, "blip"); st.Done || !st.Playing {
		t.Fatalf("before playing: %+v", st)
	}

	step(p, 32)
	s.Tick()
	if st := status(t, s, "blip"); !st.Done {
		t.Fatalf("after playing: %+v, want done", st)
	}
	if p.OpenCount() != 0 {
		t.Errorf("OpenCount = %d, want finished voice released", p.OpenCount())
	}
}

func TestSequencer_FeedsInChunks(t *testing.T) {
	t.Parallel()
	p := newPool(t, 2)
	s := score.New(p, engineConfig(2), score.WithLogger(quiet))

	d := 20 * time.Millisecond
	if err := s.Load([]config.VoiceConfig{voiceCfg("long", false, note(d), note(d), note(d), note(d), note(d))}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st := status(t, s, "long"); st.Queued != 2 {
		t.Fatalf("after load: queued %d, want 2", st.Queued)
	}

	step(p, 1)
	s.Tick()
	if st := status(t, s, "long"); st.Queued != 2 {
		t.Fatalf("after refill: queued %d, want 2", st.Queued)
	}

	// Five notes of 20 frames plus the fade-out tail.
	for range 8 {
		step(p, 16)
		s.Tick()
	}
	if st := status(t, s, "long"); !st.Done {
		t.Fatalf("after all notes: %+v, want done", st)
	}
}

// recorder wraps a pool and records control calls.
type recorder struct {
	*pool.Pool

	mu      sync.Mutex
	volumes map[pool.ChannelID][]float32
	closes  map[pool.ChannelID]pool.CloseMode
}

func newRecorder(t *testing.T) *recorder {
	return &recorder{
		Pool:    newPool(t, 64),
		volumes: make(map[pool.ChannelID][]float32),
		closes:  make(map[pool.ChannelID]pool.CloseMode),
	}
}

func (r *recorder) SetVolume(id pool.ChannelID, v []float32, steps int) error {
	r.mu.Lock()
	r.volumes[id] = v
	r.mu.Unlock()
	return r.Pool.SetVolume(id, v, steps)
}

func (r *recorder) CloseChannel(id pool.ChannelID, mode pool.CloseMode) error {
	r.mu.Lock()
	r.closes[id] = mode
	r.mu.Unlock()
	return r.Pool.CloseChannel(id, mode)
}

func TestSequencer_Apply(t *testing.T) {
	t.Parallel()
	eng := newRecorder(t)
	s := score.New(eng, engineConfig(64), score.WithLogger(quiet))

	d := 20 * time.Millisecond
	old := &config.Config{Score: []config.VoiceConfig{
		voiceCfg("a", true, note(d)),
		voiceCfg("b", true, note(d)),
		voiceCfg("c", true, note(d)),
	}}
	if err := s.Load(old.Score); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids := make(map[string]pool.ChannelID)
	for _, st := range s.Status() {
		ids[st.Name] = st.Channel
	}

	updated := &config.Config{Score: []config.VoiceConfig{
		voiceCfg("a", true, note(d)),
		voiceCfg("b", true, note(d)),
		voiceCfg("d", false, note(d)),
	}}
	updated.Score[0].Volumes = []float32{0.25}
	updated.Score[1].Crossfade = 5

	if err := s.Apply(config.Diff(old, updated), updated); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if v := eng.volumes[ids["a"]]; len(v) != 1 || v[0] != 0.25 {
		t.Errorf("voice a volume = %v, want [0.25]", v)
	}
	if mode, ok := eng.closes[ids["b"]]; !ok || mode != pool.Soft {
		t.Errorf("voice b restart close = %v (%v), want soft", mode, ok)
	}
	if _, ok := eng.closes[ids["c"]]; !ok {
		t.Error("removed voice c was not closed")
	}

	live := make(map[string]bool)
	for _, st := range s.Status() {
		if !st.Done {
			live[st.Name] = true
		}
	}
	for _, name := range []string{"a", "b", "d"} {
		if !live[name] {
			t.Errorf("voice %q not running after apply", name)
		}
	}
	if live["c"] {
		t.Error("voice c still running after removal")
	}
}

func TestSequencer_StopUsesCloseMode(t *testing.T) {
	t.Parallel()
	eng := newRecorder(t)
	s := score.New(eng, engineConfig(64), score.WithLogger(quiet))

	soft := voiceCfg("soft", true, note(20*time.Millisecond))
	force := voiceCfg("force", true, note(20*time.Millisecond))
	force.Close = config.CloseForce
	if err := s.Load([]config.VoiceConfig{soft, force}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids := make(map[string]pool.ChannelID)
	for _, st := range s.Status() {
		ids[st.Name] = st.Channel
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if eng.closes[ids["soft"]] != pool.Soft || eng.closes[ids["force"]] != pool.Force {
		t.Errorf("closes = %v", eng.closes)
	}
	for _, st := range s.Status() {
		if !st.Done {
			t.Errorf("voice %q not done after Stop", st.Name)
		}
	}
}

func TestSequencer_LoadReportsFailures(t *testing.T) {
	t.Parallel()
	p := newPool(t, 64)
	s := score.New(p, engineConfig(64), score.WithLogger(quiet))

	bad := voiceCfg("bad", false, note(20*time.Millisecond))
	bad.Crossfade = 4
	err := s.Load([]config.VoiceConfig{bad, voiceCfg("good", false, note(20*time.Millisecond))})
	if err == nil {
		t.Fatal("expected error for invalid crossfade")
	}
	if st := status(t, s, "good"); st.Done {
		t.Errorf("good voice = %+v, want running", st)
	}
}

func TestSequencer_RunStopsWithContext(t *testing.T) {
	t.Parallel()
	p := newPool(t, 64)
	s := score.New(p, engineConfig(64), score.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

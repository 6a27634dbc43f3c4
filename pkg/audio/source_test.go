package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/crossmix/pkg/audio"
	"github.com/MrWong99/crossmix/pkg/audio/synth"
	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

func table(t *testing.T, kind waveform.Kind, period int) *waveform.Table {
	t.Helper()
	tbl, err := waveform.Generate(waveform.Key{Kind: kind, Period: period})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return tbl
}

func TestSource_Discriminant(t *testing.T) {
	t.Parallel()

	tbl := table(t, waveform.Square, 8)
	b32 := synth.NewOscillator[float32](waveform.Sine, 440, 48000).Buffer()
	b64 := synth.NewOscillator[float64](waveform.Sine, 440, 48000).Buffer()

	tests := []struct {
		name        string
		src         audio.Source
		static      bool
		synthesized bool
		is32        bool
		length      int
	}{
		{"static", audio.Static(tbl), true, false, false, 8},
		{"silence", audio.Source{}, true, false, false, 1},
		{"synth32", audio.Synth32(b32), false, true, true, synth.Frames},
		{"synth64", audio.Synth64(b64), false, true, false, synth.Frames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.IsStatic(); got != tt.static {
				t.Errorf("IsStatic = %v, want %v", got, tt.static)
			}
			if got := tt.src.IsSynthesized(); got != tt.synthesized {
				t.Errorf("IsSynthesized = %v, want %v", got, tt.synthesized)
			}
			if got := tt.src.Is32Bit(); got != tt.is32 {
				t.Errorf("Is32Bit = %v, want %v", got, tt.is32)
			}
			if got := tt.src.Len(); got != tt.length {
				t.Errorf("Len = %d, want %d", got, tt.length)
			}
		})
	}

	if audio.Static(tbl).AsStatic() != tbl {
		t.Error("AsStatic returned a different table")
	}
	if audio.Synth32(b32).AsSynth32() != b32 {
		t.Error("AsSynth32 returned a different buffer")
	}
	if audio.Synth64(b64).AsSynth64() != b64 {
		t.Error("AsSynth64 returned a different buffer")
	}
}

func TestSource_MismatchPanics(t *testing.T) {
	t.Parallel()

	b32 := synth.NewOscillator[float32](waveform.Sine, 440, 48000).Buffer()
	s := audio.Synth32(b32)

	mustPanic(t, "AsStatic on synth32", func() { s.AsStatic() })
	mustPanic(t, "AsSynth64 on synth32", func() { s.AsSynth64() })
	mustPanic(t, "AsSynth32 on static", func() { audio.Source{}.AsSynth32() })
	mustPanic(t, "IsSilence on synth", func() { s.IsSilence() })
	mustPanic(t, "Synth32(nil)", func() { audio.Synth32(nil) })
}

func TestSource_IsSilence(t *testing.T) {
	t.Parallel()

	if !(audio.Source{}).IsSilence() {
		t.Error("nil static source should be silence")
	}
	zero := waveform.FromSamples(waveform.Key{Period: 4}, make([]float32, 4))
	if !audio.Static(zero).IsSilence() {
		t.Error("all-zero table should be silence")
	}
	if audio.Static(table(t, waveform.Saw, 4)).IsSilence() {
		t.Error("saw table reported silence")
	}
}

func TestSource_ClaimRelease(t *testing.T) {
	t.Parallel()

	b := synth.NewOscillator[float64](waveform.Triangle, 100, 48000).Buffer()
	s := audio.Synth64(b)

	s.Claim()
	if b.State() != synth.Queued {
		t.Fatalf("state after Claim = %v, want queued", b.State())
	}
	mustPanic(t, "second claim", s.Claim)
	s.Release()
	if b.State() != synth.Inactive {
		t.Fatalf("state after Release = %v, want inactive", b.State())
	}

	// Static sources ignore claims.
	audio.Static(nil).Claim()
	audio.Static(nil).Release()
}

func TestSource_ComputerRegisteredOnce(t *testing.T) {
	t.Parallel()

	b := synth.NewOscillator[float32](waveform.Sine, 440, 48000).Buffer()
	s := audio.Synth32(b)
	s.Claim()

	c := s.Computer()
	if c == nil {
		t.Fatal("first Computer = nil")
	}
	if s.Computer() != nil {
		t.Fatal("second Computer should be nil while attached")
	}
	if !c.Compute(true) {
		t.Fatal("computation on claimed buffer returned false")
	}
	if b.State() != synth.Active {
		t.Fatalf("state = %v, want active", b.State())
	}
	s.Release()
	if c.Compute(false) {
		t.Fatal("computation on released buffer returned true")
	}
	if audio.Static(nil).Computer() != nil {
		t.Error("static source produced a computer")
	}
}

func TestRequest_Silent(t *testing.T) {
	t.Parallel()

	sq := audio.Static(table(t, waveform.Square, 4))
	b := synth.NewOscillator[float32](waveform.Sine, 440, 48000).Buffer()

	tests := []struct {
		name string
		req  audio.Request
		want bool
	}{
		{"zero volume", audio.Request{Source: sq, Volume: 0, Duration: 10}, true},
		{"rest", audio.Rest(10), true},
		{"square", audio.Request{Source: sq, Volume: 1, Duration: 10}, false},
		{"synth", audio.Request{Source: audio.Synth32(b), Volume: 1, Duration: 10}, false},
	}
	for _, tt := range tests {
		if got := tt.req.Silent(); got != tt.want {
			t.Errorf("%s: Silent = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCrossfade_MidpointAndEndpoints(t *testing.T) {
	t.Parallel()

	a := audio.Static(table(t, waveform.Sine, 64))
	b := audio.Static(table(t, waveform.Sine, 48))

	const half = 4
	const span = 2 * half
	dst := make([]float32, span+1)
	audio.Crossfade(dst, &a, 1, 0, &b, 1, 0, 0, span)

	if dst[0] != a.Sample(0) {
		t.Errorf("dst[0] = %v, want pure from %v", dst[0], a.Sample(0))
	}
	if dst[span] != b.Sample(span) {
		t.Errorf("dst[span] = %v, want pure to %v", dst[span], b.Sample(span))
	}
	want := 0.5*a.Sample(half) + 0.5*b.Sample(half)
	if math.Abs(float64(dst[half]-want)) > 1e-6 {
		t.Errorf("midpoint = %v, want %v", dst[half], want)
	}
}

func TestCrossfade_WrapsAndMixesKinds(t *testing.T) {
	t.Parallel()

	a := audio.Static(table(t, waveform.Square, 2))
	b := audio.Source{}

	dst := make([]float32, 5)
	fromIdx, toIdx := audio.Crossfade(dst, &a, 1, 1, &b, 1, 0, 0, 4)
	if fromIdx != 0 {
		t.Errorf("fromIdx = %d, want 0 after wrapping a 2-sample table", fromIdx)
	}
	if toIdx != 0 {
		t.Errorf("toIdx = %d, want 0 for silence", toIdx)
	}
	if dst[4] != 0 {
		t.Errorf("dst[4] = %v, want 0 (pure silence)", dst[4])
	}
}

func TestCopy_ScalesAndWraps(t *testing.T) {
	t.Parallel()

	src := audio.Static(table(t, waveform.Square, 4))
	dst := make([]float32, 6)
	idx := audio.Copy(dst, &src, 0.5, 2)
	want := []float32{-0.5, -0.5, 0.5, 0.5, -0.5, -0.5}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
	if idx != 0 {
		t.Errorf("idx = %d, want 0", idx)
	}
}

package waveform_test

import (
	"math"
	"sync"
	"testing"

	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

func TestGenerate_Square(t *testing.T) {
	t.Parallel()

	tbl, err := waveform.Generate(waveform.Key{Kind: waveform.Square, Period: 4})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []float32{1, 1, -1, -1}
	for i, w := range want {
		if tbl.Samples[i] != w {
			t.Errorf("Samples[%d] = %v, want %v", i, tbl.Samples[i], w)
		}
	}
	if tbl.Silent() {
		t.Error("square table reported silent")
	}
}

func TestGenerate_SineRange(t *testing.T) {
	t.Parallel()

	tbl, err := waveform.Generate(waveform.Key{Kind: waveform.Sine, Period: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if tbl.Samples[0] != 0 {
		t.Errorf("Samples[0] = %v, want 0", tbl.Samples[0])
	}
	if math.Abs(float64(tbl.Samples[25])-1) > 1e-6 {
		t.Errorf("Samples[25] = %v, want 1", tbl.Samples[25])
	}
}

func TestGenerate_NoiseDeterministic(t *testing.T) {
	t.Parallel()

	key := waveform.Key{Kind: waveform.Noise, Period: 64}
	a, _ := waveform.Generate(key)
	b, _ := waveform.Generate(key)
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("noise sample %d differs: %v vs %v", i, a.Samples[i], b.Samples[i])
		}
		if a.Samples[i] < -1 || a.Samples[i] > 1 {
			t.Fatalf("noise sample %d out of range: %v", i, a.Samples[i])
		}
	}
}

func TestGenerate_RejectsBadPeriod(t *testing.T) {
	t.Parallel()

	if _, err := waveform.Generate(waveform.Key{Kind: waveform.Sine, Period: 0}); err == nil {
		t.Fatal("expected error for zero period")
	}
}

func TestFromSamples_Silent(t *testing.T) {
	t.Parallel()

	tbl := waveform.FromSamples(waveform.Key{Period: 3}, []float32{0, 0, 0})
	if !tbl.Silent() {
		t.Error("all-zero table should be silent")
	}
}

func TestParseKind_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range []waveform.Kind{waveform.Sine, waveform.Triangle, waveform.Saw, waveform.Square, waveform.Noise} {
		got, err := waveform.ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", k, err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %v", k, got)
		}
	}
	if _, err := waveform.ParseKind("pulse"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestCache_SharesTables(t *testing.T) {
	t.Parallel()

	c := waveform.NewCache()
	key := waveform.Key{Kind: waveform.Triangle, Period: 32}

	var wg sync.WaitGroup
	got := make([]*waveform.Table, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := c.Get(key)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			got[i] = tbl
		}()
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatalf("Get returned distinct tables for identical key")
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	other, _ := c.Get(waveform.Key{Kind: waveform.Triangle, Period: 33})
	if other == got[0] {
		t.Error("different keys returned the same table")
	}
}

func TestShape_Landmarks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  waveform.Kind
		phase float64
		want  float32
	}{
		{waveform.Sine, 0, 0},
		{waveform.Sine, 0.25, 1},
		{waveform.Triangle, 0, 0},
		{waveform.Triangle, 0.25, 1},
		{waveform.Triangle, 0.75, -1},
		{waveform.Saw, 0, -1},
		{waveform.Saw, 0.5, 0},
		{waveform.Square, 0, 1},
		{waveform.Square, 0.5, -1},
	}
	for _, tc := range tests {
		if got := waveform.Shape(tc.kind, tc.phase); math.Abs(float64(got-tc.want)) > 1e-6 {
			t.Errorf("Shape(%s, %v) = %v, want %v", tc.kind, tc.phase, got, tc.want)
		}
	}
}

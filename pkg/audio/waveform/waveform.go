// Package waveform provides precomputed, immutable periodic sample tables and
// a cache that shares identical tables by content key.
//
// A [Table] holds exactly one period of a waveform. Tables are read by the
// mixing engine and never written after construction, so a single table may
// back any number of concurrently playing requests.
package waveform

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Kind identifies the shape of a periodic waveform.
type Kind uint8

const (
	// Sine is a pure tone starting at zero phase.
	Sine Kind = iota
	// Triangle starts at zero, peaks at a quarter period and bottoms out at
	// three quarters.
	Triangle
	// Saw ramps linearly from -1 to 1 and wraps.
	Saw
	// Square is 1 for the first half of the period and -1 for the second.
	Square
	// Noise is uniform white noise in [-1, 1), seeded by the period so equal
	// keys produce equal tables.
	Noise
)

// String returns the lower-case name used in configuration files.
func (k Kind) String() string {
	switch k {
	case Sine:
		return "sine"
	case Triangle:
		return "triangle"
	case Saw:
		return "saw"
	case Square:
		return "square"
	case Noise:
		return "noise"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, error) {
	switch s {
	case "sine":
		return Sine, nil
	case "triangle":
		return Triangle, nil
	case "saw":
		return Saw, nil
	case "square":
		return Square, nil
	case "noise":
		return Noise, nil
	}
	return 0, fmt.Errorf("waveform: unknown kind %q", s)
}

// Key is the content address of a [Table]: the waveform shape and its period
// length in frames.
type Key struct {
	Kind   Kind
	Period int
}

// Table is one period of a waveform. Samples are in [-1, 1].
type Table struct {
	Key     Key
	Samples []float32

	silent bool
}

// Len returns the period length in frames.
func (t *Table) Len() int { return len(t.Samples) }

// Silent reports whether every sample of t is exactly zero.
func (t *Table) Silent() bool { return t.silent }

// Generate builds the table for key. It is a pure function: the same key
// always yields the same samples, including for [Noise], which is seeded from
// the period length.
func Generate(key Key) (*Table, error) {
	if key.Period <= 0 {
		return nil, fmt.Errorf("waveform: period must be positive, got %d", key.Period)
	}
	samples := make([]float32, key.Period)
	switch key.Kind {
	case Sine, Triangle, Saw, Square:
		for i := range samples {
			samples[i] = Shape(key.Kind, float64(i)/float64(key.Period))
		}
	case Noise:
		rng := rand.New(rand.NewPCG(uint64(key.Period), 0x9e3779b97f4a7c15))
		for i := range samples {
			samples[i] = float32(rng.Float64()*2 - 1)
		}
	default:
		return nil, fmt.Errorf("waveform: unknown kind %d", key.Kind)
	}
	return newTable(key, samples), nil
}

// FromSamples wraps caller-provided samples in a table. The slice is owned by
// the table afterwards and must not be modified.
func FromSamples(key Key, samples []float32) *Table {
	return newTable(key, samples)
}

func newTable(key Key, samples []float32) *Table {
	silent := true
	for _, s := range samples {
		if s != 0 {
			silent = false
			break
		}
	}
	return &Table{Key: key, Samples: samples, silent: silent}
}

// Shape evaluates a periodic waveform at phase in [0, 1). Noise has no phase
// function and yields zero.
func Shape(kind Kind, phase float64) float32 {
	switch kind {
	case Sine:
		return float32(math.Sin(2 * math.Pi * phase))
	case Triangle:
		switch {
		case phase < 0.25:
			return float32(4 * phase)
		case phase < 0.75:
			return float32(2 - 4*phase)
		default:
			return float32(4*phase - 4)
		}
	case Saw:
		return float32(2*phase - 1)
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	}
	return 0
}

package score

import (
	"fmt"
	"math"

	"github.com/MrWong99/crossmix/internal/config"
	"github.com/MrWong99/crossmix/pkg/audio"
	"github.com/MrWong99/crossmix/pkg/audio/synth"
	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// Requests builds one pass of a voice's notes. Static notes share tables
// through cache; every synthesized note gets a fresh oscillator so that a
// pass can be queued while the previous pass still owns its buffers.
func Requests(v config.VoiceConfig, sampleRate int, cache *waveform.Cache) ([]audio.Request, error) {
	reqs := make([]audio.Request, 0, len(v.Notes))
	for i, n := range v.Notes {
		r, err := request(n, sampleRate, cache)
		if err != nil {
			return nil, fmt.Errorf("score: voice %q note %d: %w", v.Name, i, err)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func request(n config.NoteConfig, sampleRate int, cache *waveform.Cache) (audio.Request, error) {
	frames := config.EngineConfig{SampleRate: sampleRate}.Frames(n.Duration)
	if n.Hold {
		frames = audio.DurationInfinite
	}
	if n.Rest {
		return audio.Rest(frames), nil
	}

	kind, err := waveform.ParseKind(n.Wave)
	if err != nil {
		return audio.Request{}, err
	}
	var src audio.Source
	switch n.Synth {
	case config.PrecisionFloat32:
		src = audio.Synth32(synth.NewOscillator[float32](kind, n.Frequency, sampleRate).Buffer())
	case config.PrecisionFloat64:
		src = audio.Synth64(synth.NewOscillator[float64](kind, n.Frequency, sampleRate).Buffer())
	default:
		tbl, err := cache.Get(waveform.Key{Kind: kind, Period: period(n, sampleRate)})
		if err != nil {
			return audio.Request{}, err
		}
		src = audio.Static(tbl)
	}
	return audio.Request{Source: src, Volume: n.Gain(), Duration: frames}, nil
}

// period returns the static table length for n, deriving it from the
// frequency when no explicit period is set.
func period(n config.NoteConfig, sampleRate int) int {
	if n.Period > 0 {
		return n.Period
	}
	return max(1, int(math.Round(float64(sampleRate)/n.Frequency)))
}

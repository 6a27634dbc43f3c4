package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/crossmix/pkg/audio/waveform"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	e := &cfg.Engine
	if e.SampleRate == 0 {
		e.SampleRate = DefaultSampleRate
	}
	if e.OutputChannels == 0 {
		e.OutputChannels = DefaultOutputChannels
	}
	if e.BufferFrames == 0 {
		e.BufferFrames = DefaultBufferFrames
	}
	if e.QueueCapacity == 0 {
		e.QueueCapacity = DefaultQueueCapacity
	}
	if e.MaxComputations == 0 {
		e.MaxComputations = DefaultMaxComputations
	}
	if e.VolumeRampSteps == 0 {
		e.VolumeRampSteps = DefaultVolumeRampSteps
	}
	if e.BaseAmplitude == 0 {
		e.BaseAmplitude = DefaultBaseAmplitude
	}
	if e.ShutdownFade == 0 {
		e.ShutdownFade = DefaultShutdownFade
	}
	for i := range cfg.Score {
		if cfg.Score[i].Close == "" {
			cfg.Score[i].Close = CloseSoft
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	e := cfg.Engine
	if e.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.sample_rate %d must be positive", e.SampleRate))
	}
	if e.OutputChannels < 1 || e.OutputChannels > MaxOutputChannels {
		errs = append(errs, fmt.Errorf("engine.output_channels %d is out of range [1, %d]", e.OutputChannels, MaxOutputChannels))
	}
	if e.BufferFrames <= 0 {
		errs = append(errs, fmt.Errorf("engine.buffer_frames %d must be positive", e.BufferFrames))
	}
	if e.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("engine.queue_capacity %d must be positive", e.QueueCapacity))
	}
	if e.MaxComputations <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_computations %d must be positive", e.MaxComputations))
	}
	if e.VolumeRampSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.volume_ramp_steps %d must not be negative", e.VolumeRampSteps))
	}
	if e.BaseAmplitude <= 0 || e.BaseAmplitude > 1 {
		errs = append(errs, fmt.Errorf("engine.base_amplitude %.3f is out of range (0, 1]", e.BaseAmplitude))
	}
	if e.ShutdownFade < 0 {
		errs = append(errs, fmt.Errorf("engine.shutdown_fade %s must not be negative", e.ShutdownFade))
	}

	// Voice duplicate name detection
	seen := make(map[string]int, len(cfg.Score))

	for i, v := range cfg.Score {
		prefix := fmt.Sprintf("score[%d]", i)
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[v.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of score[%d]", prefix, v.Name, prev))
			}
			seen[v.Name] = i
		}
		if v.Crossfade < 3 || v.Crossfade%2 == 0 {
			errs = append(errs, fmt.Errorf("%s.crossfade %d must be odd and >= 3", prefix, v.Crossfade))
		}
		if len(v.Volumes) != e.OutputChannels {
			errs = append(errs, fmt.Errorf("%s.volumes has %d entries, want %d (engine.output_channels)", prefix, len(v.Volumes), e.OutputChannels))
		}
		if v.Close != "" && !v.Close.IsValid() {
			errs = append(errs, fmt.Errorf("%s.close %q is invalid; valid values: soft, force", prefix, v.Close))
		}
		if len(v.Notes) == 0 {
			errs = append(errs, fmt.Errorf("%s.notes must not be empty", prefix))
		}
		for j, n := range v.Notes {
			errs = append(errs, validateNote(fmt.Sprintf("%s.notes[%d]", prefix, j), n, v, j == len(v.Notes)-1, e)...)
		}
	}

	return errors.Join(errs...)
}

func validateNote(prefix string, n NoteConfig, v VoiceConfig, last bool, e EngineConfig) []error {
	var errs []error
	if n.Hold {
		if !last || v.Loop {
			errs = append(errs, fmt.Errorf("%s.hold is only allowed on the last note of a voice that does not loop", prefix))
		}
	} else if e.SampleRate > 0 {
		// Shorter notes cannot fade at both ends and are rejected by the channel.
		if frames, need := e.Frames(n.Duration), 2*v.Crossfade; frames < need {
			errs = append(errs, fmt.Errorf("%s.duration %s is %d frames, need at least %d (two crossfade windows)", prefix, n.Duration, frames, need))
		}
	}
	if n.Rest {
		if n.Wave != "" || n.Synth != "" {
			errs = append(errs, fmt.Errorf("%s: a rest must not set wave or synth", prefix))
		}
		return errs
	}

	if _, err := waveform.ParseKind(n.Wave); err != nil {
		errs = append(errs, fmt.Errorf("%s.wave: %w", prefix, err))
	}
	if n.Volume != nil && (*n.Volume < 0 || *n.Volume > 1) {
		errs = append(errs, fmt.Errorf("%s.volume %.3f is out of range [0, 1]", prefix, *n.Volume))
	}
	switch {
	case n.Synth != "":
		if !n.Synth.IsValid() {
			errs = append(errs, fmt.Errorf("%s.synth %q is invalid; valid values: float32, float64", prefix, n.Synth))
		}
		if n.Frequency <= 0 {
			errs = append(errs, fmt.Errorf("%s.frequency is required for synthesized notes", prefix))
		}
	case n.Period < 0:
		errs = append(errs, fmt.Errorf("%s.period %d must be positive", prefix, n.Period))
	case n.Period == 0 && n.Frequency <= 0:
		errs = append(errs, fmt.Errorf("%s: period or frequency is required", prefix))
	}
	return errs
}

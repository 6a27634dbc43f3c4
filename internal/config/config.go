// Package config provides the configuration schema, loader and hot-reload
// watcher for the crossmix engine.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CloseMode selects how a voice's channel is closed when its score ends.
type CloseMode string

const (
	// CloseSoft lets queued notes finish before the channel is reclaimed.
	CloseSoft CloseMode = "soft"

	// CloseForce cuts the channel immediately.
	CloseForce CloseMode = "force"
)

// IsValid reports whether m is a recognised close mode.
func (m CloseMode) IsValid() bool {
	return m == CloseSoft || m == CloseForce
}

// Precision selects the sample type of a synthesized note. The empty value
// means the note plays from a static waveform table.
type Precision string

const (
	PrecisionFloat32 Precision = "float32"
	PrecisionFloat64 Precision = "float64"
)

// IsValid reports whether p is a recognised precision.
func (p Precision) IsValid() bool {
	return p == PrecisionFloat32 || p == PrecisionFloat64
}

// Default engine settings applied to zero fields by [LoadFromReader].
const (
	DefaultSampleRate      = 48000
	DefaultOutputChannels  = 2
	DefaultBufferFrames    = 512
	DefaultQueueCapacity   = 64
	DefaultMaxComputations = 512
	DefaultVolumeRampSteps = 2000
	DefaultBaseAmplitude   = 0.1
	DefaultShutdownFade    = 250 * time.Millisecond
	MaxOutputChannels      = 8
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig  `yaml:"server"`
	Engine EngineConfig  `yaml:"engine"`
	Score  []VoiceConfig `yaml:"score"`
}

// ServerConfig holds the HTTP and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9464"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// EngineConfig sizes the mixing engine and its output device.
type EngineConfig struct {
	// SampleRate is the output rate in frames per second.
	SampleRate int `yaml:"sample_rate"`

	// OutputChannels is the number of interleaved output channels.
	OutputChannels int `yaml:"output_channels"`

	// BufferFrames is a hint for the device buffer size.
	BufferFrames int `yaml:"buffer_frames"`

	// QueueCapacity bounds the pending requests per channel.
	QueueCapacity int `yaml:"queue_capacity"`

	// MaxComputations bounds the synthesized buffers computed per cycle.
	MaxComputations int `yaml:"max_computations"`

	// VolumeRampSteps is the number of frames a volume change glides over.
	VolumeRampSteps int `yaml:"volume_ramp_steps"`

	// BaseAmplitude scales every emitted sample.
	BaseAmplitude float32 `yaml:"base_amplitude"`

	// ShutdownFade is how long the closing fade lasts.
	ShutdownFade time.Duration `yaml:"shutdown_fade"`
}

// Frames converts d to a frame count at the configured sample rate.
func (e EngineConfig) Frames(d time.Duration) int {
	return int(d * time.Duration(e.SampleRate) / time.Second)
}

// VoiceConfig describes one channel of the score.
type VoiceConfig struct {
	// Name identifies the voice in logs and diffs. Must be unique.
	Name string `yaml:"name"`

	// Crossfade is the crossfade window length in frames (odd, >= 3).
	Crossfade int `yaml:"crossfade"`

	// Volumes holds one gain per output channel.
	Volumes []float32 `yaml:"volumes"`

	// Close selects how the channel ends. Defaults to soft.
	Close CloseMode `yaml:"close"`

	// Loop repeats the note list until shutdown.
	Loop bool `yaml:"loop"`

	// Notes are played back to back, crossfading between neighbours.
	Notes []NoteConfig `yaml:"notes"`
}

// NoteConfig is one request on a voice.
type NoteConfig struct {
	// Wave is the waveform kind: sine, triangle, saw, square or noise.
	Wave string `yaml:"wave"`

	// Period is the static table length in frames.
	Period int `yaml:"period"`

	// Frequency in Hz. Required for synthesized notes; for static notes it
	// derives Period when Period is zero.
	Frequency float64 `yaml:"frequency"`

	// Synth selects a synthesized source of the given precision. Empty plays
	// a static waveform table.
	Synth Precision `yaml:"synth"`

	// Duration is how long the note occupies the voice.
	Duration time.Duration `yaml:"duration"`

	// Volume is the request gain. Omitted means 1.
	Volume *float32 `yaml:"volume"`

	// Rest plays silence for Duration.
	Rest bool `yaml:"rest"`

	// Hold plays the note until the voice is stopped. Only valid on the last
	// note of a voice that does not loop.
	Hold bool `yaml:"hold"`
}

// Gain returns the note volume, defaulting to 1.
func (n NoteConfig) Gain() float32 {
	if n.Volume == nil {
		return 1
	}
	return *n.Volume
}

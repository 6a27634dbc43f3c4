//go:build !headless

// Package speaker plays the mixing engine through the system audio device
// using oto. Build with the headless tag to drop the native dependency.
package speaker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player streams interleaved float32 PCM from a reader to the audio device.
// oto pulls from the reader on its own goroutine.
type Player struct {
	ctx     *oto.Context
	player  *oto.Player
	running atomic.Bool

	mu     sync.Mutex // setup and control only
	closed bool
}

// Open creates the audio device context. bufferFrames is the device buffer
// hint; smaller values lower latency at the cost of more frequent callbacks.
// Only one Player may be open per process.
func Open(src io.Reader, sampleRate, channels, bufferFrames int) (*Player, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("speaker: invalid format %d Hz, %d channels", sampleRate, channels)
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   time.Duration(bufferFrames) * time.Second / time.Duration(sampleRate),
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("speaker: open device: %w", err)
	}
	<-ready

	return &Player{ctx: ctx, player: ctx.NewPlayer(src)}, nil
}

// Start begins playback.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.running.Load() {
		return
	}
	p.player.Play()
	p.running.Store(true)
}

// Running reports whether the device is playing.
func (p *Player) Running() bool {
	return p.running.Load() && p.player.Err() == nil
}

// Err returns the first error the device reported, if any.
func (p *Player) Err() error {
	return p.player.Err()
}

// Close stops playback and releases the player.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.running.Store(false)
	return errors.Join(p.player.Close(), p.ctx.Suspend())
}

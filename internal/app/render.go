package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/crossmix/internal/device"
	"github.com/MrWong99/crossmix/internal/observe"
	"github.com/MrWong99/crossmix/internal/score"
	"github.com/MrWong99/crossmix/pkg/audio/pool"
)

// tickingStepper refills the sequencer's queues before each chunk so that an
// offline render hears the same score a live device would.
type tickingStepper struct {
	*pool.Pool
	seq *score.Sequencer
}

func (s tickingStepper) Step(out []float32, frames int) {
	s.seq.Tick()
	s.Pool.Step(out, frames)
}

// Render plays the score for d without an output device and writes the mix to
// w as 16-bit WAV.
func (a *App) Render(ctx context.Context, w io.WriteSeeker, d time.Duration) (err error) {
	e := a.cfg.Engine
	frames := e.Frames(d)
	ctx, span := observe.StartRender(ctx, frames, e.SampleRate, e.OutputChannels)
	defer func() { observe.End(span, err) }()
	log := observe.WithSpan(ctx, a.log)

	if err := a.seq.Load(a.cfg.Score); err != nil {
		log.Warn("some voices failed to start", "err", err)
	}
	log.Info("rendering", "frames", frames, "duration", d)

	s := tickingStepper{Pool: a.pool, seq: a.seq}
	if err := device.RenderWAV(ctx, w, s, frames, e.BufferFrames); err != nil {
		return fmt.Errorf("app: render: %w", err)
	}
	return nil
}

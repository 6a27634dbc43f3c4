package device

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
)

// RenderWAV steps s for frames frames in chunks of chunk frames and writes
// the result to w as 16-bit PCM WAV. Samples outside [-1, 1] are clipped. It
// stops early with ctx's error if ctx is cancelled between chunks.
func RenderWAV(ctx context.Context, w io.WriteSeeker, s Stepper, frames, chunk int) error {
	if frames < 0 {
		return fmt.Errorf("device: negative frame count %d", frames)
	}
	if chunk <= 0 {
		return fmt.Errorf("device: chunk must be positive, got %d", chunk)
	}
	nch := s.Channels()
	enc := wav.NewEncoder(w, s.SampleRate(), wavBitDepth, nch, wavPCMFormat)

	mix := make([]float32, chunk*nch)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: nch, SampleRate: s.SampleRate()},
		Data:           make([]int, chunk*nch),
		SourceBitDepth: wavBitDepth,
	}

	for done := 0; done < frames; {
		if err := ctx.Err(); err != nil {
			_ = enc.Close()
			return err
		}
		n := min(chunk, frames-done)
		s.Step(mix, n)
		buf.Data = buf.Data[:n*nch]
		for i, v := range mix[:n*nch] {
			buf.Data[i] = toInt16(v)
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("device: write wav: %w", err)
		}
		done += n
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("device: close wav: %w", err)
	}
	return nil
}

func toInt16(v float32) int {
	switch {
	case v != v:
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return -math.MaxInt16
	}
	return int(math.Round(float64(v) * math.MaxInt16))
}

//go:build headless

package speaker_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/crossmix/internal/device/speaker"
)

func TestOpen_Headless(t *testing.T) {
	t.Parallel()
	p, err := speaker.Open(&bytes.Buffer{}, 48000, 2, 512)
	if !errors.Is(err, speaker.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if p != nil {
		t.Errorf("player = %v, want nil", p)
	}
}

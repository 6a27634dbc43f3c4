package pool

import "math"

// HardLimiter clamps every sample to [-1, 1]. Non-finite samples become
// silence so a single bad voice cannot poison the device.
type HardLimiter struct{}

var _ PostProcessor = HardLimiter{}

// Process implements [PostProcessor].
func (HardLimiter) Process(frame []float32) {
	for i, s := range frame {
		switch {
		case math.IsNaN(float64(s)) || math.IsInf(float64(s), 0):
			frame[i] = 0
		case s > 1:
			frame[i] = 1
		case s < -1:
			frame[i] = -1
		}
	}
}

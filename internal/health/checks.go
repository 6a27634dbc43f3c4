package health

import (
	"context"
	"errors"
)

var (
	errClosing    = errors.New("engine is shutting down")
	errNotRunning = errors.New("output device is not running")
)

// Closer reports whether the mixing engine has begun its closing fade.
type Closer interface {
	Closing() bool
}

// EngineAccepting fails once the engine refuses control operations.
func EngineAccepting(e Closer) Checker {
	return Checker{Name: "engine", Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Closing() {
			return errClosing
		}
		return nil
	}}
}

// DeviceRunning fails while running reports false.
func DeviceRunning(running func() bool) Checker {
	return Checker{Name: "device", Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !running() {
			return errNotRunning
		}
		return nil
	}}
}

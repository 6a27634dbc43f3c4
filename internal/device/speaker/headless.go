//go:build headless

package speaker

import (
	"errors"
	"io"
)

// ErrUnavailable is returned by [Open] in headless builds.
var ErrUnavailable = errors.New("speaker: built without audio output (headless)")

// Player is a placeholder in headless builds.
type Player struct{}

// Open always fails in headless builds.
func Open(io.Reader, int, int, int) (*Player, error) { return nil, ErrUnavailable }

// Start does nothing.
func (*Player) Start() {}

// Running reports false.
func (*Player) Running() bool { return false }

// Err returns [ErrUnavailable].
func (*Player) Err() error { return ErrUnavailable }

// Close does nothing.
func (*Player) Close() error { return nil }

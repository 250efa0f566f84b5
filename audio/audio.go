// Package audio is the capture boundary: a source of fixed-format PCM
// chunks plus live level telemetry for the system and microphone channels.
package audio

import (
	"errors"
	"time"
)

// Capture error taxonomy. Sources wrap the underlying cause with one of
// these so the session layer can classify it.
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrCaptureFailed     = errors.New("audio capture failed")
)

// Chunk is one fixed-format PCM buffer from the capture source.
type Chunk struct {
	PCM       []byte
	Timestamp time.Time
}

// Levels is the current signal level pair, both in [0, 1].
type Levels struct {
	System     float64
	Microphone float64
}

// Source captures dual-channel audio. Chunks returns the same channel for
// the lifetime of the source; it is closed by Stop. Pause suspends chunk
// production and drops level telemetry to silence without closing the
// channel.
type Source interface {
	Start() error
	Stop() error
	Pause() error
	Resume() error

	Chunks() <-chan Chunk
	Levels() Levels

	// Available reports whether the underlying device can be opened.
	// Used while waiting out a device loss.
	Available() bool
}

package session

import (
	"errors"
	"fmt"

	"parley/audio"
	"parley/recovery"
)

// Error is a classified session failure. Everything except invalid state
// transitions funnels through the recovery policy via its Kind.
type Error struct {
	Kind recovery.ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StateTransitionError is a usage error: the call is rejected and nothing
// changes. Never retried, never handed to recovery.
type StateTransitionError struct {
	Op   string
	From string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s from %s", e.Op, e.From)
}

// Classify extracts the recovery kind from any error surfaced by the
// coordinator or its collaborators.
func Classify(err error) recovery.ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return recovery.KindAudioDeviceUnavailable
	}
	if errors.Is(err, audio.ErrCaptureFailed) {
		return recovery.KindAudioCaptureFailed
	}
	return recovery.KindUnknown
}

// Package session owns the interview session lifecycle: the top-level
// state machine, the coordinator binding audio capture to the realtime
// transport, and failure handling through the recovery policy.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parley/rt"
)

// State is the top-level lifecycle state, owned exclusively by Manager.
type State int

const (
	StateIdle State = iota
	StateReady
	StateRunning
	StatePaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session is the externally persisted aggregate. Created on configure,
// stamped on end, released on reset.
type Session struct {
	ID        uuid.UUID
	Title     string
	StartedAt time.Time
	EndedAt   *time.Time
	Duration  time.Duration
}

// Elapsed is the wall-clock time since configure, frozen once ended.
func (s *Session) Elapsed() time.Duration {
	if s.EndedAt != nil {
		return s.Duration
	}
	return time.Since(s.StartedAt)
}

// Config is everything needed to open a session.
type Config struct {
	Title     string
	Transport rt.Config
}

// Store is the persistence collaborator. The core hands it the aggregate
// at configure time and end time only; it is never queried mid-session.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	EndSession(ctx context.Context, s *Session) error
}

// NopStore discards everything. Used when no database is configured.
type NopStore struct{}

func (NopStore) SaveSession(context.Context, *Session) error { return nil }
func (NopStore) EndSession(context.Context, *Session) error  { return nil }

// Package transcript reconstructs an ordered, speaker-attributed
// transcript from the backend's overlapping partial and final hypotheses.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// FinalizeReason records which trigger turned a live partial (or a bare
// final event) into an immutable segment.
type FinalizeReason string

const (
	ReasonAPIFinal      FinalizeReason = "api_final"
	ReasonSpeakerChange FinalizeReason = "speaker_change"
	ReasonTimeout       FinalizeReason = "timeout"
	ReasonManualFlush   FinalizeReason = "manual_flush"
)

// Segment is one finalized transcript unit. Never mutated after creation.
type Segment struct {
	ID         string
	Text       string
	Speaker    string
	StartedAt  time.Time
	EndedAt    time.Time
	Confidence float64
	Reason     FinalizeReason
}

// Partial is the single live accumulator. The backend sends cumulative
// hypotheses, so each partial event replaces Text wholesale.
type Partial struct {
	Text      string
	Speaker   string
	StartedAt time.Time
}

// UpdateKind tells the caller what Process did with an event.
type UpdateKind int

const (
	UpdatePartial UpdateKind = iota
	UpdateFinalized
	UpdateFinalizedWithNewPartial
	UpdateDropped
)

func (k UpdateKind) String() string {
	switch k {
	case UpdatePartial:
		return "partial"
	case UpdateFinalized:
		return "finalized"
	case UpdateFinalizedWithNewPartial:
		return "finalized_with_new_partial"
	case UpdateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Update is the result of processing one event. Finalized holds zero, one
// or two segments (two when a speaker change finalizes the live partial
// and the incoming event was itself final).
type Update struct {
	Kind       UpdateKind
	Finalized  []Segment
	DropReason string
}

// Stats counts what the buffer has seen since the last Clear.
type Stats struct {
	PartialEvents int
	FinalEvents   int
	Dropped       int
	Finalized     int
}

// FinalizationRate is finalized segments per processed event.
func (s Stats) FinalizationRate() float64 {
	total := s.PartialEvents + s.FinalEvents + s.Dropped
	if total == 0 {
		return 0
	}
	return float64(s.Finalized) / float64(total)
}

func newSegmentID() string {
	return uuid.NewString()
}

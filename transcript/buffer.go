package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"parley/rt"
)

// Limits are the finalization guardrails for a buffer.
type Limits struct {
	// MinFinalChars is the minimum trimmed length for a bare final event
	// to become a segment. Shorter finals are recognition noise.
	MinFinalChars int
	// MaxPartialAge auto-finalizes a partial that has been live longer
	// than this, relative to the incoming event's timestamp.
	MaxPartialAge time.Duration
	// TimeoutConfidence is stamped on timeout-finalized segments, since
	// the backend never confirmed the hypothesis.
	TimeoutConfidence float64
}

func DefaultLimits() Limits {
	return Limits{
		MinFinalChars:     2,
		MaxPartialAge:     30 * time.Second,
		TimeoutConfidence: 0.7,
	}
}

// Buffer merges the backend's partial/final event stream into ordered
// finalized segments. At most one partial is live at a time; partials are
// cumulative hypotheses, so merging means replacing.
//
// Process and Flush decisions depend on total event ordering, so the
// buffer serializes all access behind one mutex. Callers feed it from a
// single goroutine in practice; the mutex keeps accessors safe.
type Buffer struct {
	logger *log.Logger
	limits Limits

	mu          sync.Mutex
	partial     *Partial
	partialConf float64
	segments    []Segment
	lastEndedAt time.Time
	stats       Stats
	onFinalize  func(Segment)
}

func NewBuffer(logger *log.Logger) *Buffer {
	return NewBufferWithLimits(logger, DefaultLimits())
}

func NewBufferWithLimits(logger *log.Logger, limits Limits) *Buffer {
	return &Buffer{logger: logger, limits: limits}
}

// SetOnFinalize registers a callback fired synchronously for every
// finalization, whatever the trigger. The callback runs outside the
// buffer's critical section and must not call back into Process or Flush
// concurrently with the feeding goroutine.
func (b *Buffer) SetOnFinalize(fn func(Segment)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFinalize = fn
}

// Process merges one event and reports what happened.
func (b *Buffer) Process(ev rt.TranscriptionEvent) Update {
	b.mu.Lock()
	update := b.process(ev)
	fn := b.onFinalize
	b.mu.Unlock()

	if fn != nil {
		for _, seg := range update.Finalized {
			fn(seg)
		}
	}
	return update
}

// process holds the mutually exclusive finalization triggers: api final,
// speaker change, partial timeout, plus the too-short drop. Exactly one
// branch fires per event.
func (b *Buffer) process(ev rt.TranscriptionEvent) Update {
	if b.partial == nil {
		return b.processFresh(ev, nil)
	}

	// Speaker change finalizes whatever the previous speaker had live,
	// then the incoming event starts (or is) the next utterance.
	if b.partial.Speaker != "" && ev.Speaker != "" && ev.Speaker != b.partial.Speaker {
		seg := b.finalizePartial(ReasonSpeakerChange, ev.Timestamp, b.partialConf)
		update := b.processFresh(ev, &seg)
		update.Kind = UpdateFinalizedWithNewPartial
		return update
	}

	// A partial that outlives MaxPartialAge is force-finalized so a lost
	// backend final cannot wedge the buffer forever.
	if ev.Timestamp.Sub(b.partial.StartedAt) > b.limits.MaxPartialAge {
		end := b.partial.StartedAt.Add(b.limits.MaxPartialAge)
		seg := b.finalizePartial(ReasonTimeout, end, b.limits.TimeoutConfidence)
		b.logger.Debug("partial timed out", "speaker", seg.Speaker, "age", b.limits.MaxPartialAge)
		update := b.processFresh(ev, &seg)
		update.Kind = UpdateFinalizedWithNewPartial
		return update
	}

	if ev.IsFinal {
		b.stats.FinalEvents++
		speaker := ev.Speaker
		if speaker == "" {
			speaker = b.partial.Speaker
		}
		seg := b.appendSegment(Segment{
			Text:       strings.TrimSpace(ev.Text),
			Speaker:    speaker,
			StartedAt:  b.partial.StartedAt,
			EndedAt:    ev.Timestamp,
			Confidence: ev.Confidence,
			Reason:     ReasonAPIFinal,
		})
		b.partial = nil
		return Update{Kind: UpdateFinalized, Finalized: []Segment{seg}}
	}

	// Cumulative hypothesis: replace text and speaker in place, keep the
	// original start timestamp.
	b.stats.PartialEvents++
	b.partial.Text = ev.Text
	if ev.Speaker != "" {
		b.partial.Speaker = ev.Speaker
	}
	b.partialConf = ev.Confidence
	return Update{Kind: UpdatePartial}
}

// processFresh handles an event with no live partial. prior, when set, is
// a segment already finalized earlier in the same call and is prepended to
// whatever this event produces.
func (b *Buffer) processFresh(ev rt.TranscriptionEvent, prior *Segment) Update {
	var finalized []Segment
	if prior != nil {
		finalized = append(finalized, *prior)
	}

	if ev.IsFinal {
		text := strings.TrimSpace(ev.Text)
		if len(text) < b.limits.MinFinalChars {
			b.stats.Dropped++
			if prior != nil {
				return Update{Kind: UpdateFinalizedWithNewPartial, Finalized: finalized}
			}
			return Update{Kind: UpdateDropped, DropReason: "final below minimum length"}
		}
		b.stats.FinalEvents++
		seg := b.appendSegment(Segment{
			Text:       text,
			Speaker:    ev.Speaker,
			StartedAt:  ev.Timestamp,
			EndedAt:    ev.Timestamp,
			Confidence: ev.Confidence,
			Reason:     ReasonAPIFinal,
		})
		return Update{Kind: UpdateFinalized, Finalized: append(finalized, seg)}
	}

	b.stats.PartialEvents++
	b.partial = &Partial{Text: ev.Text, Speaker: ev.Speaker, StartedAt: ev.Timestamp}
	b.partialConf = ev.Confidence
	return Update{Kind: UpdatePartial, Finalized: finalized}
}

// Flush force-finalizes the live partial, if any.
func (b *Buffer) Flush(at time.Time) *Segment {
	b.mu.Lock()
	if b.partial == nil {
		b.mu.Unlock()
		return nil
	}
	seg := b.finalizePartial(ReasonManualFlush, at, b.partialConf)
	fn := b.onFinalize
	b.mu.Unlock()

	if fn != nil {
		fn(seg)
	}
	return &seg
}

// Clear drops the live partial, all segments, and statistics.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial = nil
	b.partialConf = 0
	b.segments = nil
	b.lastEndedAt = time.Time{}
	b.stats = Stats{}
}

// Segments returns a copy of the finalized sequence, in order.
func (b *Buffer) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Current returns a copy of the live partial, or nil.
func (b *Buffer) Current() *Partial {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.partial == nil {
		return nil
	}
	p := *b.partial
	return &p
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// finalizePartial turns the live partial into a segment and clears it.
// Caller holds the mutex.
func (b *Buffer) finalizePartial(reason FinalizeReason, end time.Time, confidence float64) Segment {
	seg := b.appendSegment(Segment{
		Text:       strings.TrimSpace(b.partial.Text),
		Speaker:    b.partial.Speaker,
		StartedAt:  b.partial.StartedAt,
		EndedAt:    end,
		Confidence: confidence,
		Reason:     reason,
	})
	b.partial = nil
	b.partialConf = 0
	return seg
}

// appendSegment stamps an ID, clamps EndedAt so the sequence stays
// non-decreasing, and appends. Caller holds the mutex.
func (b *Buffer) appendSegment(seg Segment) Segment {
	seg.ID = newSegmentID()
	if seg.EndedAt.Before(b.lastEndedAt) {
		seg.EndedAt = b.lastEndedAt
	}
	b.lastEndedAt = seg.EndedAt
	b.segments = append(b.segments, seg)
	b.stats.Finalized++
	return seg
}

package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"parley/transcript"
)

func newTestModel() model {
	m := initialModel(make(chan Msg, 1))
	// size the viewport the way a WindowSizeMsg would
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(model)
}

func newSegment(speaker, text string) transcript.Segment {
	return transcript.Segment{
		Text:       text,
		Speaker:    speaker,
		StartedAt:  time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
		EndedAt:    time.Date(2026, 8, 23, 10, 0, 5, 0, time.UTC),
		Confidence: 0.95,
		Reason:     transcript.ReasonAPIFinal,
	}
}

func TestSegmentAndPartialView(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(SegmentMsg{Segment: newSegment("interviewer", "walk me through your design")})
	m = updated.(model)
	updated, _ = m.Update(PartialMsg{Partial: &transcript.Partial{
		Text: "well the first thing", Speaker: "candidate",
	}})
	m = updated.(model)

	content := m.contentView()
	if !strings.Contains(content, "walk me through your design") {
		t.Errorf("content missing finalized segment:\n%s", content)
	}
	if !strings.Contains(content, "well the first thing") {
		t.Errorf("content missing live partial:\n%s", content)
	}
}

func TestSegmentClearsPartial(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(PartialMsg{Partial: &transcript.Partial{Text: "half a tho", Speaker: "candidate"}})
	m = updated.(model)
	updated, _ = m.Update(SegmentMsg{Segment: newSegment("candidate", "half a thought, completed")})
	m = updated.(model)

	content := m.contentView()
	if strings.Contains(content, "half a tho\n") {
		t.Errorf("stale partial still rendered after finalization:\n%s", content)
	}
	if !strings.Contains(content, "half a thought, completed") {
		t.Errorf("content missing finalized segment:\n%s", content)
	}
}

func TestNilPartialClearsView(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(PartialMsg{Partial: &transcript.Partial{Text: "trailing words"}})
	m = updated.(model)
	updated, _ = m.Update(PartialMsg{Partial: nil})
	m = updated.(model)

	if content := m.contentView(); strings.Contains(content, "trailing words") {
		t.Errorf("cleared partial still rendered:\n%s", content)
	}
}

func TestErrorLogToggle(t *testing.T) {
	m := newTestModel()

	updated, _ := m.Update(ErrorMsg{Err: errors.New("receive: connection_lost: broken pipe")})
	m = updated.(model)

	if content := m.contentView(); strings.Contains(content, "connection_lost") {
		t.Errorf("error shown on transcript view:\n%s", content)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(model)
	if content := m.contentView(); !strings.Contains(content, "connection_lost") {
		t.Errorf("log view missing surfaced error:\n%s", content)
	}
}

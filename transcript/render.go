package transcript

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	speakerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Renderer formats finalized segments and the live partial for a console.
type Renderer struct {
	showTimestamps bool
}

func NewRenderer(showTimestamps bool) *Renderer {
	return &Renderer{showTimestamps: showTimestamps}
}

func (r *Renderer) RenderSegment(seg Segment) string {
	var sb strings.Builder
	if r.showTimestamps {
		sb.WriteString(fmt.Sprintf("(%s) ", seg.StartedAt.Format("15:04:05")))
	}
	if seg.Speaker != "" {
		sb.WriteString(speakerStyle.Render(seg.Speaker + ":"))
		sb.WriteString(" ")
	}
	sb.WriteString(confidenceStyle(seg.Confidence).Render(seg.Text))
	return sb.String()
}

func (r *Renderer) RenderPartial(p Partial) string {
	var sb strings.Builder
	if p.Speaker != "" {
		sb.WriteString(speakerStyle.Render(p.Speaker + ":"))
		sb.WriteString(" ")
	}
	sb.WriteString(partialStyle.Render(p.Text))
	return sb.String()
}

// RenderAll renders the finalized sequence plus the live partial, one line
// per utterance.
func (r *Renderer) RenderAll(segments []Segment, partial *Partial) string {
	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString(r.RenderSegment(seg))
		sb.WriteString("\n")
	}
	if partial != nil && partial.Text != "" {
		sb.WriteString(r.RenderPartial(*partial))
		sb.WriteString("\n")
	}
	return sb.String()
}

func confidenceStyle(confidence float64) lipgloss.Style {
	switch {
	case confidence >= 0.9:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	case confidence >= 0.8:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	}
}

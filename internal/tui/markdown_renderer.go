package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders entity detail markdown and recreates the glamour
// renderer only when the wrap width or style changes.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// render converts markdown into terminal text wrapped at width. Render failures
// fall back to the raw markdown so the detail pane never goes blank.
func (r *markdownRenderer) render(markdown string, width int) string {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return ""
	}
	wrapWidth := max(width, 24)
	style := r.style
	if style == "" {
		style = "dark"
	}

	if r.renderer == nil || r.width != wrapWidth {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrapWidth),
		)
		if err != nil {
			return markdown
		}
		r.renderer = renderer
		r.width = wrapWidth
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
)

func wrapWords(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}

// markdownRenderer renders assistant replies. The glamour renderer is
// rebuilt when the width changes.
type markdownRenderer struct {
	enabled  bool
	style    string
	width    int
	renderer *glamour.TermRenderer
}

func newMarkdownRenderer(enabled bool, style string) *markdownRenderer {
	if style == "" {
		style = "dark"
	}
	return &markdownRenderer{enabled: enabled, style: style}
}

func (r *markdownRenderer) Render(text string, width int) string {
	if !r.enabled || width <= 0 {
		return wrapWords(text, width)
	}
	if r.renderer == nil || r.width != width {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			log.Warn().Err(err).Msg("could not create markdown renderer, using plain text")
			r.enabled = false
			return wrapWords(text, width)
		}
		r.renderer = renderer
		r.width = width
	}

	out, err := r.renderer.Render(text)
	if err != nil {
		log.Debug().Err(err).Msg("could not render markdown")
		return wrapWords(text, width)
	}
	return strings.Trim(out, "\n")
}

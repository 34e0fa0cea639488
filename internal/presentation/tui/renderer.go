package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders assistant output as markdown
// for the terminal, wrapping at width columns (0 keeps glamour's default).
// Without style options the style is detected from the terminal.
func NewRenderer(width int, style ...glamour.TermRendererOption) (func(string) (string, error), error) {
	opts := append([]glamour.TermRendererOption(nil), style...)
	if len(opts) == 0 {
		opts = []glamour.TermRendererOption{glamour.WithAutoStyle()}
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return func(markdown string) (string, error) {
		out, err := r.Render(markdown)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(out, "\n") + "\n", nil
	}, nil
}

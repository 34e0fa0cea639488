package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{`   __ _                   _           _   `, "#818cf8"},
	{`  / _| | _____      _____| |__   __ _| |_ `, "#a78bfa"},
	{` | |_| |/ _ \ \ /\ / / __| '_ \ / _' | __|`, "#c084fc"},
	{` |  _| | (_) \ V  V / (__| | | | (_| | |_ `, "#e879f9"},
	{` |_| |_|\___/ \_/\_/ \___|_| |_|\__,_|\__|`, "#f472b6"},
}

// PrintBanner writes the flowchat banner and version to w using the colors
// the terminal supports.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+version).Faint())
	fmt.Fprintln(w)
}

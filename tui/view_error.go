package tui

import (
	"errors"
	"strings"

	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/workflow"
)

// viewError shows why the timeline could not be loaded and how to recover
func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString("\n\n   ")
	b.WriteString(titleStyle.Render("Could not load the timeline"))
	b.WriteString("\n\n   ")
	b.WriteString(errorStyle.Render(m.err.Error()))
	b.WriteString("\n")

	if hint := errorHint(m.err); hint != "" {
		b.WriteString("\n   " + navStyle.Render(hint) + "\n")
	}
	b.WriteString("\n   " + navStyle.Render("r: retry  q: quit") + "\n")
	return b.String()
}

func errorHint(err error) string {
	switch {
	case errors.Is(err, player.ErrNoOpener):
		return "Unknown source scheme; use a file path or pattern:fps=25,duration=10s"
	case errors.Is(err, workflow.ErrTimeout):
		return "The decoder did not reach the in-point in time; raise ready_timeout in scrub.conf"
	case errors.Is(err, workflow.ErrEndReached):
		return "The clip's in-point is past the end of its media"
	default:
		return ""
	}
}

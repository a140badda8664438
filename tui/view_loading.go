package tui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

func (m Model) viewLoading() string {
	if m.width == 0 || m.height == 0 {
		return fmt.Sprintf("\n\n   %s %s\n\n", m.spinner.View(), m.status)
	}

	return renderLoadingScreen(m.width, m.height, m.spinner.View()+" "+m.status)
}

func renderLoadingScreen(width, height int, status string) string {
	logo := []string{
		" ____   ____ ____  _   _ ____",
		"/ ___| / ___|  _ \\| | | | __ )",
		"\\___ \\| |   | |_) | | | |  _ \\",
		" ___) | |___|  _ <| |_| | |_) |",
		"|____/ \\____|_| \\_\\\\___/|____/",
	}

	blockHeight := len(logo)
	startRow := (height - blockHeight) / 2

	var b strings.Builder
	for y := range height {
		var line string
		switch {
		case y == startRow+len(logo)+1:
			line = centerLine(status, width)
		case y >= startRow && y < startRow+len(logo):
			text := logo[y-startRow]
			pad := width - len(text)
			if pad < 0 {
				pad = 0
				text = text[:width]
			}
			left := pad / 2
			right := pad - left
			leftPad := strings.Repeat(" ", left)
			rightPad := strings.Repeat(" ", right)
			line = leftPad + titleStyle.Render(text) + rightPad
		default:
			line = strings.Repeat(" ", width)
		}
		b.WriteString(line)
		if y < height-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func centerLine(text string, width int) string {
	pad := max(width-runewidth.StringWidth(text), 0)
	left := pad / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left)
}

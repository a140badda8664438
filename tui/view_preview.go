package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/renderer"
)

// videoSize returns the video area in terminal cells
func (m Model) videoSize() (cols, rows int) {
	tc, tr, wpx, hpx, err := player.GetTerminalSize()
	if err != nil {
		return 1, 1
	}
	cols, rows = player.CellLayout(tc, tr, wpx, hpx).Span(m.videoWidthPx, m.videoHeightPx)
	return cols, rows
}

// videoTop is the row above the status line
func (m Model) videoTop() int {
	_, rows := m.videoSize()
	// status(1) + video + separator(1) + timeline bar(1) + clips(1) + navbar(3)
	return max((m.height-rows-8)/2, 0)
}

func (m Model) viewPreview() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	cols, rows := m.videoSize()
	barWidth := max(cols, 40)

	startCol := max((m.width-barWidth)/2, 0)
	padding := strings.Repeat(" ", startCol)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", m.videoTop()))

	// Status line: transport icon, timecode, frame-by-frame and audio markers
	icon := statusIcon(m.info.Status)
	timecode := fmt.Sprintf("%s / %s", formatTimecode(m.info.Position), formatTimecode(m.info.Duration))

	markers := ""
	if m.info.FrameByFrame {
		markers += " step"
	}
	if m.info.Pending > 0 {
		markers += fmt.Sprintf(" +%d", m.info.Pending)
	}
	if !m.audio {
		markers += " M"
	}

	statusContent := icon + "  " + timecode + markers
	if w := runewidth.StringWidth(statusContent); w < barWidth {
		statusContent += strings.Repeat(" ", barWidth-w)
	}
	b.WriteString(padding + statusStyle.Render(statusContent) + "\n")

	// kitty graphics render here
	b.WriteString(strings.Repeat("\n", rows))

	b.WriteString(padding + strings.Repeat("─", barWidth) + "\n")
	b.WriteString(padding + progressBar(m.info.Position, m.info.Duration, barWidth) + "\n")

	clips := strings.Join(m.info.Clips, " | ")
	if clips == "" {
		clips = "no clip at playhead"
	}
	clips = runewidth.Truncate(clips, barWidth, "...")
	b.WriteString(padding + clipStyle.Render(clips) + "\n")

	if m.status != "" {
		line := m.status
		if m.info.Status == renderer.StatusLoading {
			line = m.spinner.View() + " " + line
		}
		b.WriteString(padding + runewidth.Truncate(line, barWidth, "...") + "\n")
	} else {
		b.WriteString("\n")
	}

	nav1 := navStyle.Render("space: play/pause  ←/,: prev frame  →/.: next frame")
	nav2 := navStyle.Render("[/]: seek  0-9: position  s: stop  r: reload  m: audio  q: quit")
	b.WriteString(padding + nav1 + "\n")
	b.WriteString(padding + nav2 + "\n")

	return strings.TrimSuffix(b.String(), "\n")
}

func statusIcon(s renderer.Status) string {
	switch s {
	case renderer.StatusPlaying:
		return "▶"
	case renderer.StatusPaused:
		return "❚❚"
	case renderer.StatusEnded:
		return "■"
	case renderer.StatusLoading:
		return "…"
	default:
		return "□"
	}
}

// formatTimecode formats d as mm:ss.mmm
func formatTimecode(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	ms := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d.%03d", m, s, ms)
}

// progressBar draws the playhead on a bar of the given width
func progressBar(pos, total time.Duration, width int) string {
	if width < 1 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = int(float64(width) * float64(min(pos, total)) / float64(total))
	}
	filled = min(max(filled, 0), width)
	return playheadStyle.Render(strings.Repeat("━", filled)) + navStyle.Render(strings.Repeat("─", width-filled))
}

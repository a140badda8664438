package player

import (
	"os"

	"golang.org/x/sys/unix"
)

// Layout is the pixel size of one terminal cell
type Layout struct {
	CellW int
	CellH int
}

// CellLayout derives the cell size from the terminal size; zero when unknown
func CellLayout(cols, rows, widthPx, heightPx int) Layout {
	if cols == 0 || rows == 0 || widthPx == 0 || heightPx == 0 {
		return Layout{}
	}
	return Layout{CellW: widthPx / cols, CellH: heightPx / rows}
}

// Span returns how many cells a frame of the given pixel size covers
func (l Layout) Span(widthPx, heightPx int) (cols, rows int) {
	if l.CellW == 0 || l.CellH == 0 {
		return 1, 1
	}
	cols = (widthPx + l.CellW - 1) / l.CellW
	rows = (heightPx + l.CellH - 1) / l.CellH
	return cols, rows
}

// GetTerminalSize returns terminal dimensions (cols, rows, widthPx, heightPx)
func GetTerminalSize() (cols, rows, widthPx, heightPx int, err error) {
	ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return int(ws.Col), int(ws.Row), int(ws.Xpixel), int(ws.Ypixel), nil
}

package player

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/njyeung/scrub/workflow"
)

// KittyRenderer presents RGBA frames using Kitty's graphics protocol
type KittyRenderer struct {
	mu sync.Mutex

	out     io.Writer
	imageID int
	lastW   int
	lastH   int
	useShm  bool
	shmSeq  int
	frames  uint64

	// Cell position for placement (1-indexed row/col)
	cellRow int
	cellCol int

	// Terminal dimensions in cells and pixels
	termCols     int
	termRows     int
	termWidthPx  int
	termHeightPx int
}

// NewKittyRenderer creates a new Kitty graphics renderer
func NewKittyRenderer(out io.Writer) *KittyRenderer {
	return &KittyRenderer{
		out:     out,
		imageID: VideoImageID,
	}
}

// SetOutput changes the output writer
func (r *KittyRenderer) SetOutput(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = w
}

// SetUseShm switches frame transmission to POSIX shared memory (t=s)
func (r *KittyRenderer) SetUseShm(use bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useShm = use
}

// SetTerminalSize sets the terminal dimensions (cells and pixels)
func (r *KittyRenderer) SetTerminalSize(cols, rows, widthPx, heightPx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.termCols = cols
	r.termRows = rows
	r.termWidthPx = widthPx
	r.termHeightPx = heightPx
}

// SetCellPosition sets the cell position for video placement (1-indexed)
func (r *KittyRenderer) SetCellPosition(row, col int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cellRow = row
	r.cellCol = col
}

// CenterVideo centers a frame of the given pixel dimensions horizontally
// and places it at the given top row
func (r *KittyRenderer) CenterVideo(videoWidth, videoHeight, topRow int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	layout := CellLayout(r.termCols, r.termRows, r.termWidthPx, r.termHeightPx)
	if layout.CellW == 0 {
		return
	}
	cols, _ := layout.Span(videoWidth, videoHeight)

	r.cellCol = max((r.termCols-cols)/2+1, 1)
	r.cellRow = max(topRow, 1)
}

// Frames returns how many frames were presented
func (r *KittyRenderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Present draws an RGBA frame. The pixels are encoded before returning, so
// the caller may reuse f.Pix afterwards.
func (r *KittyRenderer) Present(f workflow.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Buffer the entire frame to write atomically
	var buf bytes.Buffer

	// Begin synchronized update
	buf.WriteString("\x1b[?2026h")

	// Save cursor position
	buf.WriteString("\x1b7")

	// Delete previous image first
	if r.lastW > 0 {
		fmt.Fprintf(&buf, "\x1b_Ga=d,d=i,i=%d,q=2\x1b\\", r.imageID)
	}

	if r.cellRow > 0 && r.cellCol > 0 {
		fmt.Fprintf(&buf, "\x1b[%d;%dH", r.cellRow, r.cellCol)
	} else {
		buf.WriteString("\x1b[H")
	}

	if err := r.encode(&buf, f); err != nil {
		return err
	}

	r.lastW = f.Width
	r.lastH = f.Height
	r.frames++

	// Restore cursor position
	buf.WriteString("\x1b8")

	// End synchronized update
	buf.WriteString("\x1b[?2026l")

	_, err := r.out.Write(buf.Bytes())
	return err
}

// encode writes the transmit-and-display command for f.
//
// Kitty graphics protocol:
// ESC_G<key>=<value>,...;<base64 payload>ESC\
//
//	a=T  transmit and display
//	f=32 32-bit RGBA
//	s,v  width and height in pixels
//	i    image ID for updates
//	t=s  payload is a shared memory name
//	q=2  quiet mode
func (r *KittyRenderer) encode(buf *bytes.Buffer, f workflow.Frame) error {
	if r.useShm {
		r.shmSeq++
		name := fmt.Sprintf("/scrub-frame-%d", r.shmSeq)
		if err := writeShm(name, f.Pix); err != nil {
			return fmt.Errorf("failed to write shared memory frame: %w", err)
		}
		fmt.Fprintf(buf, "\x1b_Ga=T,f=32,t=s,s=%d,v=%d,i=%d,q=2;%s\x1b\\",
			f.Width, f.Height, r.imageID, base64.StdEncoding.EncodeToString([]byte(name)))
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(f.Pix)

	// Split data into chunks (max 4096 bytes per chunk)
	const chunkSize = 4096
	first := true

	for len(encoded) > 0 {
		chunk := encoded
		more := 0

		if len(chunk) > chunkSize {
			chunk = encoded[:chunkSize]
			encoded = encoded[chunkSize:]
			more = 1
		} else {
			encoded = ""
		}

		if first {
			fmt.Fprintf(buf, "\x1b_Ga=T,f=32,s=%d,v=%d,i=%d,q=2,m=%d;%s\x1b\\",
				f.Width, f.Height, r.imageID, more, chunk)
			first = false
		} else {
			fmt.Fprintf(buf, "\x1b_Gm=%d;%s\x1b\\", more, chunk)
		}
	}
	return nil
}

// Clear deletes the presented image
func (r *KittyRenderer) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastW == 0 {
		return nil
	}
	r.lastW, r.lastH = 0, 0
	_, err := fmt.Fprintf(r.out, "\x1b_Ga=d,d=i,i=%d,q=2\x1b\\", r.imageID)
	return err
}

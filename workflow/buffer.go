package workflow

import (
	"sync"
	"time"
)

// FrameBuffer is a fixed-capacity RGBA buffer written by a decoder session
// and read by the consumer. There is no double buffering: both sides go
// through the same mutex.
type FrameBuffer struct {
	mu     sync.Mutex
	format Format
	pix    []byte
	pts    time.Duration
	stale  bool
	writes uint64
}

// NewFrameBuffer allocates a buffer for the given geometry
func NewFrameBuffer(f Format) *FrameBuffer {
	return &FrameBuffer{
		format: f,
		pix:    make([]byte, f.FrameSize()),
	}
}

// Format returns the buffer geometry
func (b *FrameBuffer) Format() Format {
	return b.format
}

func (b *FrameBuffer) lock() []byte {
	b.mu.Lock()
	return b.pix
}

func (b *FrameBuffer) unlock(pts time.Duration, stale bool) {
	b.pts = pts
	b.stale = stale
	b.writes++
	b.mu.Unlock()
}

func (b *FrameBuffer) markStale() {
	b.mu.Lock()
	b.stale = true
	b.mu.Unlock()
}

// Read calls fn with the current frame while holding the buffer lock.
// fn must not retain f.Pix.
func (b *FrameBuffer) Read(fn func(f Frame)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn(Frame{
		Pix:    b.pix,
		Width:  b.format.Width,
		Height: b.format.Height,
		PTS:    b.pts,
		Stale:  b.stale,
	})
}

// Snapshot copies the current frame into dst (grown if needed)
func (b *FrameBuffer) Snapshot(dst []byte) Frame {
	var out Frame
	b.Read(func(f Frame) {
		if cap(dst) < len(f.Pix) {
			dst = make([]byte, len(f.Pix))
		}
		dst = dst[:len(f.Pix)]
		copy(dst, f.Pix)
		out = f
		out.Pix = dst
	})
	return out
}

// Writes returns how many frames were written into the buffer
func (b *FrameBuffer) Writes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

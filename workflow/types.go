package workflow

import (
	"time"

	"github.com/njyeung/scrub/timeline"
)

// State of a clip workflow
type State int

const (
	Stopped State = iota
	Initializing
	Ready
	Rendering
	StopScheduled
	EndReached
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Rendering:
		return "rendering"
	case StopScheduled:
		return "stop-scheduled"
	case EndReached:
		return "end-reached"
	default:
		return "unknown"
	}
}

// Signal is an asynchronous lifecycle notification from a decoder session
type Signal int

const (
	SignalPlaying Signal = iota
	SignalPaused
	SignalPositionChanged
	SignalEndReached
	SignalStopped
)

func (s Signal) String() string {
	switch s {
	case SignalPlaying:
		return "playing"
	case SignalPaused:
		return "paused"
	case SignalPositionChanged:
		return "position-changed"
	case SignalEndReached:
		return "end-reached"
	case SignalStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a signal plus the media position it refers to
type Event struct {
	Signal   Signal
	Time     time.Duration // media time of the last delivered frame
	Position float64       // Time normalised to the media duration, 0..1
}

const (
	// BytesPerPixel of the RGBA frames written by decoder sessions
	BytesPerPixel = 4

	DefaultMaxWidth  = 640
	DefaultMaxHeight = 360
)

// Format is the raw frame geometry a session must deliver
type Format struct {
	Width  int
	Height int
}

// FrameSize returns the number of bytes of one frame
func (f Format) FrameSize() int {
	return f.Width * f.Height * BytesPerPixel
}

// Frame is a view of a decoded RGBA frame
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	PTS    time.Duration
	Stale  bool // written past the clip's out-point
}

// Sink is the callback contract a decoder session drives.
//
// Lock is called before writing a frame and returns a writable buffer of
// Format.FrameSize() bytes; it never fails. Unlock is called after writing and
// may block the calling goroutine. Notify delivers lifecycle signals.
type Sink interface {
	Lock() []byte
	Unlock(pts time.Duration)
	Notify(ev Event)
}

// Session is an attached decode session.
//
// Transport commands never block and may be issued from inside Sink
// callbacks. Stop is synchronous: when it returns no callback is running and
// none will start.
type Session interface {
	Play() error
	Pause() error
	Stop() error
	SetPosition(pos float64) error
	SetTime(t time.Duration) error
	FrameDuration() time.Duration
}

// Backend opens decode sessions for clips
type Backend interface {
	Open(clip *timeline.Clip, format Format, sink Sink) (Session, error)
}

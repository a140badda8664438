package renderer

import (
	"time"

	"github.com/njyeung/scrub/workflow"
)

// Status is the transport state of a Renderer
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusPaused
	StatusPlaying
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPaused:
		return "paused"
	case StatusPlaying:
		return "playing"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EventKind identifies a user-visible renderer event
type EventKind int

const (
	EventLoaded EventKind = iota
	EventPlaying
	EventPaused
	EventStopped
	EventPosition
	EventClipEnded
	EventEndReached
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "loaded"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventStopped:
		return "stopped"
	case EventPosition:
		return "position"
	case EventClipEnded:
		return "clip-ended"
	case EventEndReached:
		return "end-reached"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted on the Events channel
type Event struct {
	Kind     EventKind
	Position time.Duration // timeline position
	Err      error
}

// Action is a transport request queued while stepping
type Action int

const (
	ActionPause Action = iota
	ActionUnpause
)

func (a Action) String() string {
	if a == ActionPause {
		return "pause"
	}
	return "unpause"
}

// Surface displays composed frames
type Surface interface {
	Present(f workflow.Frame) error
}

// SurfaceFunc adapts a function to Surface
type SurfaceFunc func(f workflow.Frame) error

func (fn SurfaceFunc) Present(f workflow.Frame) error {
	return fn(f)
}

// Info is a snapshot of the renderer state
type Info struct {
	Status       Status
	Position     time.Duration
	Duration     time.Duration
	Clips        []string
	FrameByFrame bool
	Pending      int
}

// emit sends without blocking; events are dropped when nobody listens
func (r *Renderer) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Debug("renderer: event dropped", "kind", ev.Kind)
	}
}

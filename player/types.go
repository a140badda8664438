package player

import (
	"errors"
	"time"

	"github.com/njyeung/scrub/workflow"
)

var (
	ErrNoOpener       = errors.New("no source opener for scheme")
	ErrSessionStopped = errors.New("session stopped")
)

// Source decodes the frames of one media item
type Source interface {
	// Decode decodes the next frame and returns its presentation time; io.EOF at the end
	Decode() (time.Duration, error)

	// Render converts the last decoded frame into dst using the given geometry
	Render(dst []byte, f workflow.Format) error

	// Seek decodes the first frame at or after t and returns its presentation time
	Seek(t time.Duration) (time.Duration, error)

	// Duration returns the media duration
	Duration() time.Duration

	// FrameDuration returns the nominal duration of one frame
	FrameDuration() time.Duration

	// Close releases all resources
	Close()
}

// AudioTrack is implemented by sources that also play sound
type AudioTrack interface {
	SetPaused(paused bool)
	Flush()
}

// Opener opens a Source for a clip source string
type Opener func(source string) (Source, error)

const (
	// Kitty image IDs
	VideoImageID = 1
)

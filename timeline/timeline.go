package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Open is the length of a clip without an out-point; it runs until the media ends.
const Open = time.Duration(math.MaxInt64)

var (
	ErrInvalidRange = errors.New("invalid clip range")
	ErrOverlap      = errors.New("clip overlaps another clip on the track")
)

// Clip is a bounded in/out segment of a source media item.
// Clips are immutable once placed; workflows borrow them.
type Clip struct {
	ID     string
	Source string
	In     time.Duration
	Out    time.Duration // zero means "until the end of the media"
}

// NewClip validates the range and assigns a fresh ID
func NewClip(source string, in, out time.Duration) (*Clip, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidRange)
	}
	if in < 0 || (out != 0 && out <= in) {
		return nil, fmt.Errorf("%w: in=%v out=%v", ErrInvalidRange, in, out)
	}
	return &Clip{
		ID:     uuid.NewString(),
		Source: source,
		In:     in,
		Out:    out,
	}, nil
}

// Length returns Out-In, or Open for clips without an out-point
func (c *Clip) Length() time.Duration {
	if c.Out == 0 {
		return Open
	}
	return c.Out - c.In
}

// Bounded reports whether the clip has an out-point
func (c *Clip) Bounded() bool {
	return c.Out != 0
}

func (c *Clip) String() string {
	if c.Out == 0 {
		return fmt.Sprintf("%s@%v-", c.Source, c.In)
	}
	return fmt.Sprintf("%s@%v-%v", c.Source, c.In, c.Out)
}

// ParseClipArg parses "source[@in-out]", e.g. "a.mp4@2s-5s" or "a.mp4@1.5s-".
func ParseClipArg(arg string) (*Clip, error) {
	source, rng, found := strings.Cut(arg, "@")
	if !found {
		return NewClip(source, 0, 0)
	}

	inStr, outStr, ok := strings.Cut(rng, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q: expected in-out", ErrInvalidRange, arg)
	}

	var in, out time.Duration
	var err error
	if inStr != "" {
		if in, err = time.ParseDuration(inStr); err != nil {
			return nil, fmt.Errorf("parse in-point %q: %w", inStr, err)
		}
	}
	if outStr != "" {
		if out, err = time.ParseDuration(outStr); err != nil {
			return nil, fmt.Errorf("parse out-point %q: %w", outStr, err)
		}
	}
	return NewClip(source, in, out)
}

// Placement positions a clip on a track of the timeline.
type Placement struct {
	Clip  *Clip
	Track int
	Start time.Duration
}

// End returns the timeline position where the placement stops
func (p Placement) End() time.Duration {
	if !p.Clip.Bounded() {
		return Open
	}
	return p.Start + p.Clip.Length()
}

// Contains reports whether pos falls inside [Start, End)
func (p Placement) Contains(pos time.Duration) bool {
	return pos >= p.Start && pos < p.End()
}

// MediaTime maps a timeline position to a time inside the clip's media.
func (p Placement) MediaTime(pos time.Duration) time.Duration {
	if pos < p.Start {
		pos = p.Start
	}
	return p.Clip.In + (pos - p.Start)
}

// Timeline selects which clips are active at a given playhead position.
type Timeline struct {
	mu         sync.RWMutex
	placements []Placement
}

// New creates an empty timeline
func New() *Timeline {
	return &Timeline{}
}

// Add places clip on track at start. Placements on one track may not overlap.
func (t *Timeline) Add(track int, start time.Duration, clip *Clip) (Placement, error) {
	if clip == nil {
		return Placement{}, fmt.Errorf("%w: nil clip", ErrInvalidRange)
	}
	if start < 0 || track < 0 {
		return Placement{}, fmt.Errorf("%w: track=%d start=%v", ErrInvalidRange, track, start)
	}

	p := Placement{Clip: clip, Track: track, Start: start}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, o := range t.placements {
		if o.Track != track {
			continue
		}
		if p.Start < o.End() && o.Start < p.End() {
			return Placement{}, fmt.Errorf("%w: %s and %s on track %d", ErrOverlap, clip, o.Clip, track)
		}
	}

	t.placements = append(t.placements, p)
	sort.SliceStable(t.placements, func(i, j int) bool {
		if t.placements[i].Start != t.placements[j].Start {
			return t.placements[i].Start < t.placements[j].Start
		}
		return t.placements[i].Track < t.placements[j].Track
	})
	return p, nil
}

// Append places clip right after the last clip of track
func (t *Timeline) Append(track int, clip *Clip) (Placement, error) {
	t.mu.RLock()
	var start time.Duration
	for _, p := range t.placements {
		if p.Track == track && p.End() > start {
			start = p.End()
		}
	}
	t.mu.RUnlock()

	if start == Open {
		return Placement{}, fmt.Errorf("%w: track %d ends with an open clip", ErrOverlap, track)
	}
	return t.Add(track, start, clip)
}

// ActiveAt returns the placements covering pos, lowest track first.
func (t *Timeline) ActiveAt(pos time.Duration) []Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []Placement
	for _, p := range t.placements {
		if p.Contains(pos) {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Track < active[j].Track })
	return active
}

// NextBoundary returns the first clip start or end strictly after pos.
func (t *Timeline) NextBoundary(pos time.Duration) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	next := Open
	for _, p := range t.placements {
		if p.Start > pos && p.Start < next {
			next = p.Start
		}
		if end := p.End(); end > pos && end < next {
			next = end
		}
	}
	return next, next != Open
}

// Duration returns the end of the last bounded placement
func (t *Timeline) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var d time.Duration
	for _, p := range t.placements {
		if end := p.End(); end != Open && end > d {
			d = end
		}
	}
	return d
}

// Len returns the number of placements
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.placements)
}

// Placements returns a copy of all placements ordered by start
func (t *Timeline) Placements() []Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Placement(nil), t.placements...)
}

// Package renderer drives the clip workflows of a timeline in lockstep and
// presents the composed frame to a display surface.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

var ErrClosed = errors.New("renderer closed")

const defaultEventBuffer = 64

// Option configures a Renderer
type Option func(*Renderer)

// WithLogger sets the renderer's logger; workflows inherit it
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFormat sets the frame geometry of every workflow
func WithFormat(f workflow.Format) Option {
	return func(r *Renderer) { r.format = f }
}

// WithTimeout bounds workflow waits (readiness, pauses, steps)
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the Events channel
func WithEventBuffer(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.events = make(chan Event, n)
		}
	}
}

// track is one active workflow and where its clip sits on the timeline
type track struct {
	placement timeline.Placement
	wf        *workflow.ClipWorkflow
}

// timelinePos maps a media time of the clip onto the timeline
func (t *track) timelinePos(media time.Duration) time.Duration {
	return t.placement.Start + max(media-t.placement.Clip.In, 0)
}

type pump struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Renderer owns the active workflows for the current timeline position.
//
// Transport operations are serialised. Signal handlers run on decoder
// goroutines and only take the state lock.
type Renderer struct {
	tl      *timeline.Timeline
	backend workflow.Backend
	surface Surface
	log     *slog.Logger
	format  workflow.Format
	timeout time.Duration

	ctl sync.Mutex // serialises transport operations

	mu       sync.RWMutex
	tracks   []*track
	status   Status
	position time.Duration
	gen      uint64
	pump     *pump
	closed   bool

	actionsMu sync.Mutex
	actions   []Action

	frameByFrame atomic.Int32

	events chan Event
	frame  []byte
	wg     sync.WaitGroup
}

// New creates an idle renderer; call Load to build the active set
func New(tl *timeline.Timeline, backend workflow.Backend, surface Surface, opts ...Option) *Renderer {
	r := &Renderer{
		tl:      tl,
		backend: backend,
		surface: surface,
		log:     slog.Default(),
		format:  workflow.Format{Width: workflow.DefaultMaxWidth, Height: workflow.DefaultMaxHeight},
		timeout: workflow.DefaultTimeout,
		status:  StatusIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.events == nil {
		r.events = make(chan Event, defaultEventBuffer)
	}
	return r
}

// Events returns the channel of user-visible events. It is closed by Close.
func (r *Renderer) Events() <-chan Event {
	return r.events
}

// Info returns a snapshot of the renderer state
func (r *Renderer) Info() Info {
	r.mu.RLock()
	info := Info{
		Status:       r.status,
		Position:     r.position,
		Duration:     r.tl.Duration(),
		FrameByFrame: r.frameByFrame.Load() > 0,
	}
	for _, t := range r.tracks {
		info.Clips = append(info.Clips, t.placement.Clip.String())
	}
	r.mu.RUnlock()

	r.actionsMu.Lock()
	info.Pending = len(r.actions)
	r.actionsMu.Unlock()
	return info
}

// Status returns the transport state
func (r *Renderer) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Position returns the timeline position of the last presented frame
func (r *Renderer) Position() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position
}

// Workflows returns the active workflows, lowest track first
func (r *Renderer) Workflows() []*workflow.ClipWorkflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wfs := make([]*workflow.ClipWorkflow, len(r.tracks))
	for i, t := range r.tracks {
		wfs[i] = t.wf
	}
	return wfs
}

func (r *Renderer) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != s {
		r.log.Debug("renderer: status changed", "from", r.status, "to", s)
		r.status = s
	}
}

func (r *Renderer) snapshotTracks() []*track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracks
}

func (r *Renderer) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Load builds the active set for timeline position at and presents its
// first frame. The renderer ends paused.
func (r *Renderer) Load(ctx context.Context, at time.Duration) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	return r.load(ctx, at)
}

func (r *Renderer) load(ctx context.Context, at time.Duration) error {
	r.stopPump()
	r.stopTracks()

	at = max(at, 0)
	if d := r.tl.Duration(); d > 0 && at >= d {
		at = d - 1
	}

	r.mu.Lock()
	r.gen++
	r.position = at
	r.mu.Unlock()

	placements := r.tl.ActiveAt(at)
	if len(placements) == 0 {
		r.setStatus(StatusIdle)
		r.log.Info("renderer: nothing to render", "at", at)
		return nil
	}
	r.setStatus(StatusLoading)

	tracks := make([]*track, 0, len(placements))
	for _, p := range placements {
		wf := workflow.New(p.Clip, r.backend,
			workflow.WithLogger(r.log),
			workflow.WithFormat(r.format),
			workflow.WithTimeout(r.timeout),
			workflow.WithObserver(r.observe),
		)
		if err := wf.Initialize(); err != nil {
			stopWorkflows(tracks, r.log)
			r.setStatus(StatusIdle)
			return fmt.Errorf("renderer: load %s: %w", p.Clip, err)
		}
		tracks = append(tracks, &track{placement: p, wf: wf})
	}

	// tracks become visible to signal handlers before they forward anything
	r.mu.Lock()
	r.tracks = tracks
	r.mu.Unlock()

	for _, t := range tracks {
		err := t.wf.WaitReady(ctx)
		if errors.Is(err, workflow.ErrEndReached) {
			r.log.Warn("renderer: clip has no frame at its in-point", "clip", t.placement.Clip)
			continue
		}
		if err == nil && at > t.placement.Start {
			err = t.wf.Seek(ctx, t.placement.MediaTime(at))
		}
		if err != nil {
			r.stopTracks()
			r.setStatus(StatusIdle)
			return fmt.Errorf("renderer: load %s: %w", t.placement.Clip, err)
		}
	}

	r.present(tracks[0])
	r.setStatus(StatusPaused)
	r.log.Info("renderer: loaded", "at", at, "clips", len(tracks))
	if r.frameByFrame.Load() == 0 {
		r.emit(Event{Kind: EventLoaded, Position: r.Position()})
	}
	return nil
}

// Seek moves the playhead to at. Within the current active set the
// workflows seek in place, otherwise the set is rebuilt. Playback resumes
// if it was running.
func (r *Renderer) Seek(ctx context.Context, at time.Duration) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}

	wasPlaying := r.Status() == StatusPlaying
	if err := r.seek(ctx, at); err != nil {
		return err
	}
	if wasPlaying {
		return r.play(ctx)
	}
	return nil
}

func (r *Renderer) seek(ctx context.Context, at time.Duration) error {
	at = max(at, 0)
	tracks := r.snapshotTracks()
	if !sameSet(tracks, r.tl.ActiveAt(at)) || r.Status() == StatusEnded {
		return r.load(ctx, at)
	}

	if err := r.pause(ctx); err != nil {
		return err
	}
	for _, t := range tracks {
		if t.wf.IsEndReached() {
			// the session is parked past its out-point; only a reload rewinds it
			return r.load(ctx, at)
		}
	}
	for _, t := range tracks {
		if err := t.wf.Seek(ctx, t.placement.MediaTime(at)); err != nil {
			return fmt.Errorf("renderer: seek: %w", err)
		}
	}
	r.present(tracks[0])
	return nil
}

// sameSet reports whether the placements are exactly the active tracks
func sameSet(tracks []*track, placements []timeline.Placement) bool {
	if len(tracks) == 0 || len(tracks) != len(placements) {
		return false
	}
	for i, p := range placements {
		if tracks[i].placement.Clip != p.Clip || tracks[i].placement.Start != p.Start {
			return false
		}
	}
	return true
}

// Stop stops every active workflow and clears the active set
func (r *Renderer) Stop() error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	r.stop()
	return nil
}

// StopPreview stops like Stop and also clears the display surface
func (r *Renderer) StopPreview() error {
	if err := r.Stop(); err != nil {
		return err
	}
	if c, ok := r.surface.(interface{ Clear() error }); ok {
		return c.Clear()
	}
	return nil
}

func (r *Renderer) stop() {
	r.stopPump()
	hadTracks := len(r.snapshotTracks()) > 0
	r.stopTracks()

	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
	r.setStatus(StatusIdle)

	if hadTracks {
		r.onStopped()
	}
}

// Close stops everything, waits for background work and closes Events
func (r *Renderer) Close() {
	r.ctl.Lock()
	if r.isClosed() {
		r.ctl.Unlock()
		return
	}
	r.stop()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.ctl.Unlock()

	r.wg.Wait()
	close(r.events)
}

// stopTracks schedules a stop on every workflow, then tears them down
func (r *Renderer) stopTracks() {
	r.mu.Lock()
	tracks := r.tracks
	r.tracks = nil
	r.mu.Unlock()

	stopWorkflows(tracks, r.log)
}

func stopWorkflows(tracks []*track, log *slog.Logger) {
	for _, t := range tracks {
		t.wf.ScheduleStop()
	}
	for _, t := range tracks {
		if !t.wf.HasSession() {
			continue
		}
		if err := t.wf.Stop(); err != nil {
			log.Warn("renderer: failed to stop workflow", "clip", t.placement.Clip, "error", err)
		}
	}
}

// present copies the track's frame and shows it. Returns the timeline
// position of the frame.
func (r *Renderer) present(t *track) time.Duration {
	f := t.wf.Buffer().Snapshot(r.frame)
	r.frame = f.Pix

	pos := t.timelinePos(f.PTS)
	r.mu.Lock()
	r.position = pos
	r.mu.Unlock()

	if f.Stale || r.surface == nil {
		return pos
	}
	if err := r.surface.Present(f); err != nil {
		r.log.Warn("renderer: failed to present frame", "pts", f.PTS, "error", err)
	}
	return pos
}

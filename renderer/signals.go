package renderer

import (
	"github.com/njyeung/scrub/workflow"
)

// observe receives the signals workflows forward. It runs on the decoder
// goroutine of w; only the primary workflow's signals are user-visible.
func (r *Renderer) observe(w *workflow.ClipWorkflow, ev workflow.Event) {
	r.mu.RLock()
	var primary *track
	if len(r.tracks) > 0 && r.tracks[0].wf == w {
		primary = r.tracks[0]
	}
	r.mu.RUnlock()

	if primary == nil {
		return
	}

	switch ev.Signal {
	case workflow.SignalPlaying:
		r.onPlaying()
	case workflow.SignalPaused:
		r.onPaused()
	case workflow.SignalPositionChanged:
		r.onPositionChanged(primary, ev)
	case workflow.SignalEndReached:
		r.onEndReached(primary, ev)
	case workflow.SignalStopped:
		r.onStopped()
	}
}

func (r *Renderer) stepping() bool {
	return r.frameByFrame.Load() > 0
}

func (r *Renderer) onPlaying() {
	if r.stepping() {
		return
	}
	r.emit(Event{Kind: EventPlaying, Position: r.Position()})
}

func (r *Renderer) onPaused() {
	if r.stepping() {
		return
	}
	r.emit(Event{Kind: EventPaused, Position: r.Position()})
}

func (r *Renderer) onStopped() {
	if r.stepping() {
		return
	}
	r.emit(Event{Kind: EventStopped, Position: r.Position()})
}

func (r *Renderer) onPositionChanged(t *track, ev workflow.Event) {
	pos := t.timelinePos(ev.Time)

	r.mu.Lock()
	r.position = pos
	r.mu.Unlock()

	if r.stepping() {
		return
	}
	r.emit(Event{Kind: EventPosition, Position: pos})
}

func (r *Renderer) onEndReached(t *track, ev workflow.Event) {
	r.log.Debug("renderer: clip ended", "clip", t.placement.Clip, "pts", ev.Time)
	if r.stepping() {
		return
	}
	r.emit(Event{Kind: EventClipEnded, Position: r.Position()})
}

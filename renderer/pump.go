package renderer

import (
	"context"
	"errors"
	"time"

	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

// startPump starts presenting frames of the rendering workflows
func (r *Renderer) startPump() {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pump{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.pump = p
	tracks := r.tracks
	gen := r.gen
	pos := r.position
	r.mu.Unlock()

	boundary, ok := r.tl.NextBoundary(pos)
	if !ok {
		boundary = timeline.Open
	}
	go r.runPump(ctx, p.done, gen, tracks, boundary)
}

// stopPump cancels the pump and waits for it to exit
func (r *Renderer) stopPump() {
	r.mu.Lock()
	p := r.pump
	r.pump = nil
	r.mu.Unlock()

	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

// runPump waits for a new frame on every track, presents the primary one
// and grants every track its next frame. It hands over to the next timeline
// segment at boundary or when the primary clip ends.
func (r *Renderer) runPump(ctx context.Context, done chan struct{}, gen uint64, tracks []*track, boundary time.Duration) {
	defer close(done)

	primary := tracks[0]
	frameDur := primary.wf.FrameDuration()

	seqs := make([]uint64, len(tracks))
	for i, t := range tracks {
		seqs[i] = t.wf.Seq()
	}

	for {
		for i, t := range tracks {
			seq, err := t.wf.WaitFrame(ctx, seqs[i])
			if ctx.Err() != nil {
				return
			}

			switch {
			case err == nil:
				seqs[i] = seq
			case errors.Is(err, workflow.ErrEndReached):
				if t == primary {
					r.cross(gen, primary.placement.End())
					return
				}
			default:
				r.log.Error("renderer: playback failed", "clip", t.placement.Clip, "error", err)
				r.emit(Event{Kind: EventError, Position: r.Position(), Err: err})
				return
			}
		}

		pos := r.present(primary)
		for _, t := range tracks {
			t.wf.Advance()
		}

		if boundary != timeline.Open && pos+frameDur >= boundary {
			r.cross(gen, boundary)
			return
		}
	}
}

// cross moves playback to the segment starting at at, unless a transport
// operation replaced the active set in the meantime
func (r *Renderer) cross(gen uint64, at time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		r.ctl.Lock()
		defer r.ctl.Unlock()

		r.mu.RLock()
		stale := r.gen != gen || r.closed
		r.mu.RUnlock()
		if stale {
			return
		}

		r.stopPump()
		if at == timeline.Open || at >= r.tl.Duration() {
			r.pauseTracks(context.Background(), r.snapshotTracks())
			r.setStatus(StatusEnded)
			r.log.Info("renderer: end of timeline", "at", r.Position())
			r.emit(Event{Kind: EventEndReached, Position: r.Position()})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*r.timeout)
		defer cancel()

		r.log.Debug("renderer: crossing boundary", "at", at)
		if err := r.load(ctx, at); err != nil {
			r.log.Error("renderer: failed to cross boundary", "at", at, "error", err)
			r.emit(Event{Kind: EventError, Position: at, Err: err})
			return
		}
		if err := r.play(ctx); err != nil {
			r.log.Error("renderer: failed to resume after boundary", "at", at, "error", err)
			r.emit(Event{Kind: EventError, Position: at, Err: err})
		}
	}()
}

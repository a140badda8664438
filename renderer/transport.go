package renderer

import (
	"context"
	"errors"
	"fmt"

	"github.com/njyeung/scrub/workflow"
)

// Play resumes playback
func (r *Renderer) Play(ctx context.Context) error {
	return r.request(ctx, ActionUnpause)
}

// Pause pauses playback
func (r *Renderer) Pause(ctx context.Context) error {
	return r.request(ctx, ActionPause)
}

// TogglePlayPause pauses when playing or forcePause is set, otherwise resumes.
// While a frame step is in progress the request is queued and applied when
// the step finishes.
func (r *Renderer) TogglePlayPause(ctx context.Context, forcePause bool) error {
	action := ActionUnpause
	if forcePause || r.Status() == StatusPlaying {
		action = ActionPause
	}
	return r.request(ctx, action)
}

func (r *Renderer) request(ctx context.Context, a Action) error {
	r.actionsMu.Lock()
	if r.frameByFrame.Load() > 0 {
		r.actions = append(r.actions, a)
		r.actionsMu.Unlock()
		r.log.Debug("renderer: action queued while stepping", "action", a)
		return nil
	}
	r.actionsMu.Unlock()

	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	return r.apply(ctx, a)
}

func (r *Renderer) apply(ctx context.Context, a Action) error {
	if a == ActionPause {
		return r.pause(ctx)
	}
	return r.play(ctx)
}

// play starts rendering on every active workflow and the playback pump
func (r *Renderer) play(ctx context.Context) error {
	switch r.Status() {
	case StatusIdle, StatusLoading, StatusPlaying:
		return nil
	case StatusEnded:
		// rewind
		if err := r.load(ctx, 0); err != nil {
			return err
		}
	}

	tracks := r.snapshotTracks()
	if len(tracks) == 0 {
		return nil
	}

	for _, t := range tracks {
		if t.wf.IsEndReached() {
			continue
		}
		if err := t.wf.StartRender(ctx); err != nil {
			r.pauseTracks(ctx, tracks)
			return fmt.Errorf("renderer: play: %w", err)
		}
	}

	r.setStatus(StatusPlaying)
	r.startPump()
	return nil
}

// pause stops the pump and returns every workflow to Ready
func (r *Renderer) pause(ctx context.Context) error {
	r.stopPump()

	tracks := r.snapshotTracks()
	if len(tracks) == 0 {
		return nil
	}
	err := r.pauseTracks(ctx, tracks)

	if r.Status() == StatusPlaying {
		r.setStatus(StatusPaused)
	}
	return err
}

func (r *Renderer) pauseTracks(ctx context.Context, tracks []*track) error {
	var errs []error
	for _, t := range tracks {
		if err := t.wf.Pause(ctx); err != nil {
			errs = append(errs, fmt.Errorf("renderer: pause %s: %w", t.placement.Clip, err))
		}
	}
	return errors.Join(errs...)
}

// NextFrame shows exactly one more decoded frame and leaves the transport paused
func (r *Renderer) NextFrame(ctx context.Context) error {
	return r.frameStep(ctx, true)
}

// PreviousFrame shows the frame before the current one and leaves the transport paused
func (r *Renderer) PreviousFrame(ctx context.Context) error {
	return r.frameStep(ctx, false)
}

func (r *Renderer) frameStep(ctx context.Context, forward bool) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	if len(r.snapshotTracks()) == 0 {
		return nil
	}

	r.frameByFrame.Add(1)
	err := r.step(ctx, forward)
	if pending := r.leaveFrameByFrame(); pending != nil {
		if actionErr := r.checkActions(ctx, pending); actionErr != nil {
			err = errors.Join(err, actionErr)
		}
	}
	return err
}

func (r *Renderer) step(ctx context.Context, forward bool) error {
	if err := r.pause(ctx); err != nil {
		return err
	}
	if r.Status() == StatusEnded {
		r.setStatus(StatusPaused)
	}

	tracks := r.snapshotTracks()
	primary := tracks[0]

	if forward && primary.wf.IsEndReached() {
		return r.crossForward(ctx, primary)
	}
	if !forward && primary.wf.Time() <= primary.placement.Clip.In {
		return r.crossBackward(ctx, primary)
	}

	for _, t := range tracks {
		if t.wf.IsEndReached() {
			continue
		}

		var err error
		if forward {
			err = t.wf.Step(ctx)
		} else {
			err = t.wf.StepBack(ctx)
		}
		if errors.Is(err, workflow.ErrEndReached) {
			continue
		}
		if err != nil && !(t != primary && errors.Is(err, workflow.ErrInvalidState)) {
			return fmt.Errorf("renderer: step %s: %w", t.placement.Clip, err)
		}
	}

	if primary.wf.IsEndReached() {
		// the step ran into the out-point; show the next segment instead
		return r.crossForward(ctx, primary)
	}
	r.present(primary)
	return nil
}

// crossForward loads the segment after the primary clip
func (r *Renderer) crossForward(ctx context.Context, primary *track) error {
	next := primary.placement.End()
	if next >= r.tl.Duration() {
		r.setStatus(StatusEnded)
		return nil
	}
	return r.load(ctx, next)
}

// crossBackward loads the last frame before the primary clip
func (r *Renderer) crossBackward(ctx context.Context, primary *track) error {
	start := primary.placement.Start
	if start == 0 {
		return nil
	}
	fd := primary.wf.FrameDuration()
	if fd <= 0 {
		fd = 1
	}
	return r.load(ctx, max(start-fd, 0))
}

// leaveFrameByFrame ends a step and takes the actions queued during it
func (r *Renderer) leaveFrameByFrame() []Action {
	r.actionsMu.Lock()
	defer r.actionsMu.Unlock()

	if r.frameByFrame.Add(-1) > 0 {
		return nil
	}
	pending := r.actions
	r.actions = nil

	r.emit(Event{Kind: EventPosition, Position: r.Position()})
	return pending
}

// checkActions applies the actions queued during a step. Only the last
// request counts.
func (r *Renderer) checkActions(ctx context.Context, pending []Action) error {
	if len(pending) == 0 {
		return nil
	}
	last := pending[len(pending)-1]
	r.log.Debug("renderer: applying queued action", "action", last, "queued", len(pending))
	return r.apply(ctx, last)
}

// SetPosition moves the primary workflow to a normalised position (clamped
// to 0..1). While not playing it waits for the frame there and presents it.
func (r *Renderer) SetPosition(pos float64) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if r.isClosed() {
		return ErrClosed
	}
	tracks := r.snapshotTracks()
	if len(tracks) == 0 {
		return nil
	}
	primary := tracks[0]
	pos = min(max(pos, 0), 1)

	// the pump presents the new frame while playing
	wait := r.Status() != StatusPlaying && primary.wf.IsReady()
	seq := primary.wf.Seq()

	if err := primary.wf.SetPosition(pos); err != nil {
		return fmt.Errorf("renderer: set position: %w", err)
	}
	if !wait {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := primary.wf.WaitFrame(ctx, seq)
	switch {
	case errors.Is(err, workflow.ErrEndReached):
		r.log.Debug("renderer: position past the end of the clip", "pos", pos)
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("renderer: set position: %w", &workflow.TimeoutError{Op: "set position", After: r.timeout})
	case err != nil:
		return fmt.Errorf("renderer: set position: %w", err)
	}
	r.present(primary)
	return nil
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/njyeung/scrub/timeline"
)

// DefaultTimeout bounds every wait of a workflow (readiness, pause acknowledgement, seeks)
const DefaultTimeout = 5 * time.Second

// Observer receives the backend signals a workflow forwards once it is past
// initialisation. It runs on the decoder's goroutine and must not block.
type Observer func(w *ClipWorkflow, ev Event)

// Option configures a ClipWorkflow
type Option func(*ClipWorkflow)

// WithLogger sets the logger used for state transitions
func WithLogger(l *slog.Logger) Option {
	return func(w *ClipWorkflow) {
		if l != nil {
			w.log = l
		}
	}
}

// WithObserver registers the receiver of forwarded backend signals
func WithObserver(o Observer) Option {
	return func(w *ClipWorkflow) { w.observer = o }
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(w *ClipWorkflow) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithFormat sets the frame buffer geometry (DefaultMaxWidth x DefaultMaxHeight otherwise)
func WithFormat(f Format) Option {
	return func(w *ClipWorkflow) {
		if f.Width > 0 && f.Height > 0 {
			w.format = f
		}
	}
}

// ClipWorkflow drives one clip's decoder session and owns its frame buffer.
//
// Two goroutines use it: the control goroutine (transport, queries, the
// consumer side of the backpressure) and the decoder's goroutine (Lock,
// Unlock, Notify).
type ClipWorkflow struct {
	id       string
	clip     *timeline.Clip
	backend  Backend
	format   Format
	buffer   *FrameBuffer
	timeout  time.Duration
	observer Observer
	log      *slog.Logger

	// guarded by mon
	mon           *monitor
	state         State
	phase         phase
	session       Session
	opening       bool
	stopping      bool
	seq           uint64 // frames published
	credits       int    // backpressure credits, at most one
	parked        bool   // producer waiting in Unlock
	backendPaused bool
	time          time.Duration
}

// New creates a stopped workflow for clip
func New(clip *timeline.Clip, backend Backend, opts ...Option) *ClipWorkflow {
	w := &ClipWorkflow{
		id:      uuid.NewString(),
		clip:    clip,
		backend: backend,
		format:  Format{Width: DefaultMaxWidth, Height: DefaultMaxHeight},
		timeout: DefaultTimeout,
		log:     slog.Default(),
		mon:     newMonitor(),
		state:   Stopped,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.buffer = NewFrameBuffer(w.format)
	w.log = w.log.With("workflow", w.id, "clip", clip.String())
	return w
}

// ID returns the workflow's unique id
func (w *ClipWorkflow) ID() string { return w.id }

// Clip returns the borrowed clip descriptor
func (w *ClipWorkflow) Clip() *timeline.Clip { return w.clip }

// Buffer returns the workflow's frame buffer
func (w *ClipWorkflow) Buffer() *FrameBuffer { return w.buffer }

// State returns the current state
func (w *ClipWorkflow) State() State {
	w.mon.mu.RLock()
	defer w.mon.mu.RUnlock()
	return w.state
}

func (w *ClipWorkflow) IsReady() bool      { return w.State() == Ready }
func (w *ClipWorkflow) IsRendering() bool  { return w.State() == Rendering }
func (w *ClipWorkflow) IsStopped() bool    { return w.State() == Stopped }
func (w *ClipWorkflow) IsEndReached() bool { return w.State() == EndReached }

// HasSession reports whether a decoder session is attached
func (w *ClipWorkflow) HasSession() bool {
	w.mon.mu.RLock()
	defer w.mon.mu.RUnlock()
	return w.session != nil
}

// Seq returns the number of frames published so far
func (w *ClipWorkflow) Seq() uint64 {
	w.mon.mu.RLock()
	defer w.mon.mu.RUnlock()
	return w.seq
}

// Time returns the media time of the last delivered frame
func (w *ClipWorkflow) Time() time.Duration {
	w.mon.mu.RLock()
	defer w.mon.mu.RUnlock()
	return w.time
}

// FrameDuration returns the attached session's frame duration, zero without one
func (w *ClipWorkflow) FrameDuration() time.Duration {
	w.mon.mu.RLock()
	s := w.session
	w.mon.mu.RUnlock()

	if s == nil {
		return 0
	}
	return s.FrameDuration()
}

// setState must be called with the write lock held
func (w *ClipWorkflow) setState(s State) {
	if w.state == s {
		return
	}
	w.log.Debug("workflow: state changed", "from", w.state, "to", s)
	w.state = s
	w.mon.cond.Broadcast()
}

// wait runs waitUntil bounded by the workflow timeout
func (w *ClipWorkflow) wait(ctx context.Context, op string, pred func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.mon.waitUntil(ctx, pred)
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, After: w.timeout}
	}
	return err
}

// Initialize attaches a decoder session and starts positioning it on the
// in-point. The workflow becomes Ready asynchronously.
func (w *ClipWorkflow) Initialize() error {
	w.mon.mu.Lock()
	if w.session != nil || w.opening || w.state != Stopped {
		st := w.state
		w.mon.mu.Unlock()
		return &InvalidStateError{Op: "initialize", State: st}
	}
	w.opening = true
	w.mon.mu.Unlock()

	s, err := w.backend.Open(w.clip, w.format, w)

	w.mon.mu.Lock()
	w.opening = false
	if err != nil {
		w.mon.mu.Unlock()
		w.log.Error("workflow: failed to open session", "error", err)
		return fmt.Errorf("workflow: open %s: %w", w.clip.Source, err)
	}
	w.session = s
	w.phase = phaseAwaitPlaying
	w.credits = 0
	w.backendPaused = false
	w.setState(Initializing)
	w.mon.mu.Unlock()

	if err := s.Play(); err != nil {
		w.log.Error("workflow: failed to start session", "error", err)
		if stopErr := w.Stop(); stopErr != nil {
			w.log.Warn("workflow: stop after failed start", "error", stopErr)
		}
		return fmt.Errorf("workflow: play %s: %w", w.clip.Source, err)
	}
	return nil
}

// WaitReady blocks until the workflow is Ready (or already Rendering)
func (w *ClipWorkflow) WaitReady(ctx context.Context) error {
	var st State
	err := w.wait(ctx, "wait ready", func() bool {
		st = w.state
		return st != Initializing && !w.opening
	})
	if err != nil {
		return err
	}
	switch st {
	case Ready, Rendering:
		return nil
	case EndReached:
		return ErrEndReached
	default:
		return &InvalidStateError{Op: "wait ready", State: st}
	}
}

// StartRender waits for Ready, then resumes playback in Rendering.
func (w *ClipWorkflow) StartRender(ctx context.Context) error {
	err := w.wait(ctx, "start render", func() bool {
		return w.state != Initializing
	})
	if err != nil {
		return err
	}

	w.mon.mu.Lock()
	switch w.state {
	case Rendering:
		w.mon.mu.Unlock()
		return nil
	case Ready:
	default:
		st := w.state
		w.mon.mu.Unlock()
		return &InvalidStateError{Op: "start render", State: st}
	}
	s := w.session
	w.credits = 0
	w.setState(Rendering)
	w.mon.mu.Unlock()

	if err := s.Play(); err != nil {
		return fmt.Errorf("workflow: start render: %w", err)
	}
	return nil
}

// Pause leaves Rendering for Ready and waits until the session acknowledged
// the pause. It is a no-op outside Rendering.
func (w *ClipWorkflow) Pause(ctx context.Context) error {
	w.mon.mu.Lock()
	if w.state != Rendering {
		w.mon.mu.Unlock()
		return nil
	}
	s := w.session
	w.backendPaused = false
	w.mon.mu.Unlock()

	// Pause the session before releasing a parked producer so it cannot
	// start another frame.
	if err := s.Pause(); err != nil {
		return fmt.Errorf("workflow: pause: %w", err)
	}

	w.mon.mu.Lock()
	if w.state == Rendering {
		w.setState(Ready)
	}
	w.mon.cond.Broadcast()
	w.mon.mu.Unlock()

	return w.wait(ctx, "pause", func() bool {
		return w.backendPaused || w.state != Ready
	})
}

// ScheduleStop marks the workflow so the next render cycle does not resume.
// The session stays attached until Stop.
func (w *ClipWorkflow) ScheduleStop() {
	w.mon.mu.Lock()
	defer w.mon.mu.Unlock()

	if w.session == nil || w.stopping {
		return
	}
	w.setState(StopScheduled)
}

// Stop tears the session down. When it returns no decoder callback is
// running against this workflow.
func (w *ClipWorkflow) Stop() error {
	w.mon.mu.Lock()
	if w.session == nil {
		st := w.state
		w.mon.mu.Unlock()
		return &InvalidStateError{Op: "stop", State: st}
	}
	if w.stopping {
		w.mon.mu.Unlock()
		return w.mon.waitUntil(context.Background(), func() bool { return !w.stopping })
	}
	s := w.session
	w.stopping = true
	w.setState(StopScheduled)
	w.mon.mu.Unlock()

	err := s.Stop()

	w.mon.mu.Lock()
	w.session = nil
	w.stopping = false
	w.phase = phaseIdle
	w.credits = 0
	w.parked = false
	w.setState(Stopped)
	w.mon.cond.Broadcast()
	w.mon.mu.Unlock()

	if err != nil {
		return fmt.Errorf("workflow: stop: %w", err)
	}
	return nil
}

// SetPosition forwards a normalised media position to the session
func (w *ClipWorkflow) SetPosition(pos float64) error {
	w.mon.mu.RLock()
	s := w.session
	st := w.state
	w.mon.mu.RUnlock()

	if s == nil {
		return &InvalidStateError{Op: "set position", State: st}
	}
	return s.SetPosition(pos)
}

// Advance grants the producer one frame. Credits do not accumulate.
func (w *ClipWorkflow) Advance() {
	w.mon.mu.Lock()
	defer w.mon.mu.Unlock()

	if w.state != Rendering || w.credits > 0 {
		return
	}
	w.credits = 1
	w.mon.cond.Broadcast()
}

// WaitFrame blocks until a frame newer than after is published and returns
// its sequence number. It returns ErrEndReached once the clip ended.
func (w *ClipWorkflow) WaitFrame(ctx context.Context, after uint64) (uint64, error) {
	err := w.mon.waitUntil(ctx, func() bool {
		if w.seq > after {
			return true
		}
		switch w.state {
		case Initializing, Ready, Rendering:
			return false
		}
		return true
	})
	if err != nil {
		return after, err
	}

	w.mon.mu.RLock()
	seq, st := w.seq, w.state
	w.mon.mu.RUnlock()

	switch {
	case st == EndReached:
		return seq, ErrEndReached
	case seq > after:
		return seq, nil
	default:
		return seq, &InvalidStateError{Op: "wait frame", State: st}
	}
}

// ReadFrame reads the buffer under its lock
func (w *ClipWorkflow) ReadFrame(fn func(f Frame)) {
	w.buffer.Read(fn)
}

// Step advances exactly one decoded frame and leaves the workflow paused in Ready.
func (w *ClipWorkflow) Step(ctx context.Context) error {
	w.mon.mu.Lock()
	st := w.state
	if st != Ready && st != Rendering {
		w.mon.mu.Unlock()
		return &InvalidStateError{Op: "step", State: st}
	}
	s := w.session
	seq := w.seq
	if w.parked {
		// the producer already published the current frame; release exactly one more
		w.credits = 1
	} else {
		// a frame in flight (or the next one after resuming) is the step
		w.credits = 0
	}
	w.setState(Rendering)
	w.mon.cond.Broadcast()
	w.mon.mu.Unlock()

	if st == Ready {
		if err := s.Play(); err != nil {
			return fmt.Errorf("workflow: step: %w", err)
		}
	}

	if _, err := w.waitFrame(ctx, "step", seq); err != nil {
		return err
	}
	return w.Pause(ctx)
}

// Seek positions the session at media time t and waits for the frame there.
// The workflow ends paused in Ready.
func (w *ClipWorkflow) Seek(ctx context.Context, t time.Duration) error {
	if err := w.Pause(ctx); err != nil {
		return err
	}

	w.mon.mu.Lock()
	if w.state != Ready {
		st := w.state
		w.mon.mu.Unlock()
		return &InvalidStateError{Op: "seek", State: st}
	}
	s := w.session
	seq := w.seq
	w.mon.mu.Unlock()

	if t < w.clip.In {
		t = w.clip.In
	}
	if w.clip.Bounded() {
		if last := w.clip.Out - s.FrameDuration(); t > last {
			t = max(last, w.clip.In)
		}
	}

	if err := s.SetTime(t); err != nil {
		return fmt.Errorf("workflow: seek: %w", err)
	}
	_, err := w.waitFrame(ctx, "seek", seq)
	return err
}

// StepBack shows the frame before the current one. At the in-point it does nothing.
func (w *ClipWorkflow) StepBack(ctx context.Context) error {
	w.mon.mu.RLock()
	s, st, cur := w.session, w.state, w.time
	w.mon.mu.RUnlock()

	if st != Ready && st != Rendering {
		return &InvalidStateError{Op: "step back", State: st}
	}
	if cur <= w.clip.In {
		return w.Pause(ctx)
	}
	return w.Seek(ctx, cur-s.FrameDuration())
}

func (w *ClipWorkflow) waitFrame(ctx context.Context, op string, after uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	seq, err := w.WaitFrame(ctx, after)
	if errors.Is(err, context.DeadlineExceeded) {
		return seq, &TimeoutError{Op: op, After: w.timeout}
	}
	return seq, err
}

// Lock hands the decoder the buffer to write the next frame into.
func (w *ClipWorkflow) Lock() []byte {
	return w.buffer.lock()
}

// Unlock publishes the frame just written. While Rendering it parks the
// decoder until the consumer grants a credit with Advance.
func (w *ClipWorkflow) Unlock(pts time.Duration) {
	past := w.clip.Bounded() && pts >= w.clip.Out
	w.buffer.unlock(pts, past)

	w.mon.mu.Lock()
	w.seq++
	w.time = pts

	var ended Session
	if past && (w.state == Ready || w.state == Rendering) {
		ended = w.session
		w.setState(EndReached)
	}
	w.mon.cond.Broadcast()

	if w.state == Rendering {
		w.parked = true
		for w.state == Rendering && w.credits == 0 {
			w.mon.cond.Wait()
		}
		w.parked = false
		if w.state == Rendering {
			w.credits--
		}
	}
	w.mon.mu.Unlock()

	if ended != nil {
		w.log.Info("workflow: out-point reached", "pts", pts)
		if err := ended.Pause(); err != nil {
			w.log.Warn("workflow: pause at out-point", "error", err)
		}
		if w.observer != nil {
			w.observer(w, Event{Signal: SignalEndReached, Time: pts})
		}
	}
}

// Notify handles a lifecycle signal from the decoder session.
func (w *ClipWorkflow) Notify(ev Event) {
	w.mon.mu.Lock()
	if w.session == nil || w.stopping {
		// late signal from a detached session
		w.mon.mu.Unlock()
		return
	}
	s := w.session

	switch ev.Signal {
	case SignalPlaying:
		w.backendPaused = false
	case SignalPaused:
		w.backendPaused = true
	case SignalPositionChanged:
		w.time = ev.Time
	}

	var action func(*ClipWorkflow, Session) error
	forward := false

	switch {
	case ev.Signal == SignalEndReached:
		switch w.state {
		case Initializing, Ready, Rendering:
			w.setState(EndReached)
			w.buffer.markStale()
			forward = true
		}
	case w.state == Initializing:
		if t, ok := initTransitions[w.phase]; ok && t.on == ev.Signal {
			w.phase = t.next
			action = t.action
			if t.ready {
				w.setState(Ready)
			}
		}
	default:
		forward = w.state == Ready || w.state == Rendering
	}
	w.mon.cond.Broadcast()
	w.mon.mu.Unlock()

	if action != nil {
		if err := action(w, s); err != nil {
			w.log.Error("workflow: initialisation step failed", "signal", ev.Signal, "error", err)
		}
	}
	if forward && w.observer != nil {
		w.observer(w, ev)
	}
}

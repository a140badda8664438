package renderer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

var testFormat = workflow.Format{Width: 32, Height: 18}

// frameRecorder is a surface that keeps the pattern index of every presented frame
type frameRecorder struct {
	mu     sync.Mutex
	frames []int64
}

func (s *frameRecorder) Present(f workflow.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, player.PatternIndex(f.Pix))
	return nil
}

func (s *frameRecorder) presented() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.frames...)
}

type fixture struct {
	r       *Renderer
	backend *player.Backend
	surface *frameRecorder
}

func newFixture(t *testing.T, clips ...string) *fixture {
	t.Helper()

	tl := timeline.New()
	for _, arg := range clips {
		clip, err := timeline.ParseClipArg(arg)
		if err != nil {
			t.Fatalf("ParseClipArg(%q): %v", arg, err)
		}
		if _, err := tl.Append(0, clip); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f := &fixture{
		backend: player.NewBackend(),
		surface: &frameRecorder{},
	}
	f.r = New(tl, f.backend, f.surface,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithFormat(testFormat),
		WithTimeout(2*time.Second),
		WithEventBuffer(1024),
	)
	t.Cleanup(func() {
		f.r.Close()
		f.backend.Close()
	})
	return f
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitEvent drains events until one of the given kind arrives
func waitEvent(t *testing.T, r *Renderer, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				t.Fatalf("events closed before %v", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %v event", kind)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadPresentsInPoint(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s@2s-5s")

	if err := f.r.Load(testContext(t), 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	waitEvent(t, f.r, EventLoaded)

	if got := f.surface.presented(); !slices.Equal(got, []int64{50}) {
		t.Errorf("presented = %v, want [50]", got)
	}
	info := f.r.Info()
	if info.Status != StatusPaused || info.Position != 0 || len(info.Clips) != 1 {
		t.Errorf("Info() = %+v", info)
	}
	if info.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", info.Duration)
	}
	for _, wf := range f.r.Workflows() {
		if !wf.IsReady() {
			t.Errorf("workflow %s is %v, want ready", wf.Clip(), wf.State())
		}
	}
}

func TestNextFramePresentsExactlyOneFrame(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s@2s-5s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.r.NextFrame(ctx); err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
	}

	if got := f.surface.presented(); !slices.Equal(got, []int64{50, 51, 52, 53}) {
		t.Errorf("presented = %v, want [50 51 52 53]", got)
	}
	if got := f.r.Position(); got != 120*time.Millisecond {
		t.Errorf("Position() = %v, want 120ms", got)
	}
	if got := f.r.Status(); got != StatusPaused {
		t.Errorf("Status() = %v, want paused", got)
	}
	for _, wf := range f.r.Workflows() {
		if got := wf.Buffer().Writes(); got != 4 {
			t.Errorf("buffer written %d times, want 4", got)
		}
	}

	if err := f.r.PreviousFrame(ctx); err != nil {
		t.Fatalf("PreviousFrame: %v", err)
	}
	frames := f.surface.presented()
	if got := frames[len(frames)-1]; got != 52 {
		t.Errorf("after PreviousFrame presented %d, want 52", got)
	}
}

func TestActionsQueuedWhileStepping(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}

	f.r.frameByFrame.Add(1)
	if err := f.r.TogglePlayPause(ctx, false); err != nil {
		t.Fatalf("TogglePlayPause: %v", err)
	}
	if err := f.r.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := f.r.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}

	info := f.r.Info()
	if !info.FrameByFrame || info.Pending != 3 {
		t.Fatalf("Info() = %+v, want 3 pending actions while stepping", info)
	}
	if info.Status != StatusPaused {
		t.Fatalf("queued action applied early: %v", info.Status)
	}

	f.r.ctl.Lock()
	pending := f.r.leaveFrameByFrame()
	err := f.r.checkActions(ctx, pending)
	f.r.ctl.Unlock()
	if err != nil {
		t.Fatalf("checkActions: %v", err)
	}

	// only the last request is applied
	if got := f.r.Status(); got != StatusPlaying {
		t.Errorf("Status() = %v, want playing", got)
	}
	if info := f.r.Info(); info.Pending != 0 || info.FrameByFrame {
		t.Errorf("Info() after step = %+v", info)
	}
	if err := f.r.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
}

func TestPlayPause(t *testing.T) {
	f := newFixture(t, "pattern:fps=100,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.r.TogglePlayPause(ctx, false); err != nil {
		t.Fatalf("TogglePlayPause: %v", err)
	}
	if got := f.r.Status(); got != StatusPlaying {
		t.Fatalf("Status() = %v, want playing", got)
	}
	eventually(t, "five frames", func() bool { return len(f.surface.presented()) >= 5 })

	if err := f.r.TogglePlayPause(ctx, false); err != nil {
		t.Fatalf("TogglePlayPause: %v", err)
	}
	if got := f.r.Status(); got != StatusPaused {
		t.Fatalf("Status() = %v, want paused", got)
	}

	n := len(f.surface.presented())
	time.Sleep(50 * time.Millisecond)
	frames := f.surface.presented()
	if len(frames) != n {
		t.Errorf("paused renderer presented %d frames", len(frames)-n)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i] != frames[i-1]+1 {
			t.Fatalf("frames skipped or repeated: %v", frames)
		}
	}

	// forcePause on a paused renderer keeps it paused
	if err := f.r.TogglePlayPause(ctx, true); err != nil {
		t.Fatal(err)
	}
	if got := f.r.Status(); got != StatusPaused {
		t.Errorf("Status() = %v, want paused", got)
	}
}

func TestCrossesClipBoundaries(t *testing.T) {
	f := newFixture(t,
		"pattern:fps=50,duration=10s@0s-200ms",
		"pattern:fps=50,duration=10s@1s-1200ms",
	)
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.r.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}

	ev := waitEvent(t, f.r, EventEndReached)
	if ev.Position < 380*time.Millisecond {
		t.Errorf("ended at %v, want at least 380ms", ev.Position)
	}
	if got := f.r.Status(); got != StatusEnded {
		t.Errorf("Status() = %v, want ended", got)
	}

	frames := f.surface.presented()
	if !slices.Contains(frames, 9) || !slices.Contains(frames, 50) || !slices.Contains(frames, 59) {
		t.Errorf("presented = %v, want both clips in full", frames)
	}
	if slices.Contains(frames, 10) || slices.Contains(frames, 60) {
		t.Errorf("presented = %v, frames past an out-point", frames)
	}

	// play after the end rewinds
	if err := f.r.Play(ctx); err != nil {
		t.Fatalf("Play after end: %v", err)
	}
	if err := f.r.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := f.r.Position(); got >= 200*time.Millisecond {
		t.Errorf("Position() = %v after rewind, want inside the first clip", got)
	}
}

func TestStepAcrossBoundary(t *testing.T) {
	f := newFixture(t,
		"pattern:fps=25,duration=10s@0s-80ms",
		"pattern:fps=25,duration=10s@2s-3s",
	)
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.r.NextFrame(ctx); err != nil {
			t.Fatalf("NextFrame %d: %v", i, err)
		}
	}
	if got := f.surface.presented(); !slices.Equal(got, []int64{0, 1, 50}) {
		t.Fatalf("presented = %v, want [0 1 50]", got)
	}
	if got := f.r.Position(); got != 80*time.Millisecond {
		t.Errorf("Position() = %v, want 80ms", got)
	}

	if err := f.r.PreviousFrame(ctx); err != nil {
		t.Fatalf("PreviousFrame: %v", err)
	}
	frames := f.surface.presented()
	if got := frames[len(frames)-1]; got != 1 {
		t.Errorf("stepping back over the boundary presented %d, want 1", got)
	}
}

func TestSeek(t *testing.T) {
	f := newFixture(t,
		"pattern:fps=25,duration=10s@2s-5s",
		"pattern:fps=25,duration=10s@0s-1s",
	)
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	wfs := f.r.Workflows()

	if err := f.r.Seek(ctx, time.Second); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := f.r.Workflows(); len(got) != 1 || got[0] != wfs[0] {
		t.Error("seek inside the clip rebuilt the active set")
	}
	frames := f.surface.presented()
	if got := frames[len(frames)-1]; got != 75 {
		t.Errorf("presented %d, want 75", got)
	}

	if err := f.r.Seek(ctx, 3500*time.Millisecond); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := f.r.Workflows(); len(got) != 1 || got[0] == wfs[0] {
		t.Error("seek into the next clip kept the old workflow")
	}
	if !wfs[0].IsStopped() {
		t.Errorf("replaced workflow is %v, want stopped", wfs[0].State())
	}
	frames = f.surface.presented()
	if got := frames[len(frames)-1]; got != 12 {
		t.Errorf("presented %d, want 12", got)
	}
	if got := f.backend.Active(); got != 1 {
		t.Errorf("backend has %d sessions, want 1", got)
	}
}

func TestStopClearsActiveSet(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.r.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	wfs := f.r.Workflows()

	if err := f.r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitEvent(t, f.r, EventStopped)

	if got := f.r.Status(); got != StatusIdle {
		t.Errorf("Status() = %v, want idle", got)
	}
	if len(f.r.Workflows()) != 0 {
		t.Error("active set not cleared")
	}
	if !wfs[0].IsStopped() || wfs[0].HasSession() {
		t.Errorf("workflow %v with session %v, want stopped", wfs[0].State(), wfs[0].HasSession())
	}
	if got := f.backend.Active(); got != 0 {
		t.Errorf("backend has %d sessions, want 0", got)
	}

	// transport on an empty renderer is a no-op
	for name, op := range map[string]func(context.Context) error{
		"play":     f.r.Play,
		"pause":    f.r.Pause,
		"next":     f.r.NextFrame,
		"previous": f.r.PreviousFrame,
	} {
		if err := op(ctx); err != nil {
			t.Errorf("%s on stopped renderer: %v", name, err)
		}
	}
	if err := f.r.SetPosition(0.5); err != nil {
		t.Errorf("SetPosition on stopped renderer: %v", err)
	}
}

func TestEmptyTimeline(t *testing.T) {
	f := newFixture(t)

	if err := f.r.Load(testContext(t), time.Second); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.r.Status(); got != StatusIdle {
		t.Errorf("Status() = %v, want idle", got)
	}
	if len(f.surface.presented()) != 0 {
		t.Error("empty timeline presented a frame")
	}
}

func TestSetPositionPresentsFrame(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		pos   float64
		frame int64
		at    time.Duration
	}{
		{0.5, 125, 5 * time.Second},
		{-3, 0, 0},
		{0.25, 62, 2480 * time.Millisecond},
	}
	for _, tt := range tests {
		if err := f.r.SetPosition(tt.pos); err != nil {
			t.Fatalf("SetPosition(%v): %v", tt.pos, err)
		}
		frames := f.surface.presented()
		if got := frames[len(frames)-1]; got != tt.frame {
			t.Errorf("SetPosition(%v) presented %d, want %d", tt.pos, got, tt.frame)
		}
		if got := f.r.Position(); got != tt.at {
			t.Errorf("SetPosition(%v) position = %v, want %v", tt.pos, got, tt.at)
		}
	}
	if got := f.r.Status(); got != StatusPaused {
		t.Errorf("Status() = %v, want paused", got)
	}

	// past the end of the media nothing new is shown
	n := len(f.surface.presented())
	if err := f.r.SetPosition(2); err != nil {
		t.Fatalf("SetPosition(2): %v", err)
	}
	if got := len(f.surface.presented()); got != n {
		t.Errorf("SetPosition past the end presented %d frames", got-n)
	}
}

func TestSetPositionDuringStop(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}

	errs := make(chan error, 20)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 20 {
			errs <- f.r.SetPosition(float64(i%10) / 10)
		}
	}()
	if err := f.r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("SetPosition racing Stop: %v", err)
		}
	}
}

func TestLoadFailure(t *testing.T) {
	f := newFixture(t, "missing.mp4")

	err := f.r.Load(testContext(t), 0)
	if !errors.Is(err, player.ErrNoOpener) {
		t.Fatalf("Load error = %v, want ErrNoOpener", err)
	}
	if got := f.r.Status(); got != StatusIdle {
		t.Errorf("Status() = %v, want idle", got)
	}
	if len(f.r.Workflows()) != 0 {
		t.Error("failed load left workflows behind")
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, "pattern:fps=25,duration=10s")
	ctx := testContext(t)

	if err := f.r.Load(ctx, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	f.r.Close()

	for range f.r.Events() {
	}
	if err := f.r.Load(ctx, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close = %v, want ErrClosed", err)
	}
	if err := f.r.Play(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
	if err := f.r.SetPosition(0.5); !errors.Is(err, ErrClosed) {
		t.Errorf("SetPosition after Close = %v, want ErrClosed", err)
	}
	if got := f.backend.Active(); got != 0 {
		t.Errorf("backend has %d sessions after Close, want 0", got)
	}
}

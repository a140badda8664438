package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

var testFormat = workflow.Format{Width: 32, Height: 18}

// stubSession records commands and never signals on its own
type stubSession struct {
	mu     sync.Mutex
	plays  int
	pauses int
	stops  int
	times  []time.Duration
	pos    []float64
	err    error
}

func (s *stubSession) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.err
}

func (s *stubSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	return nil
}

func (s *stubSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *stubSession) SetPosition(pos float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = append(s.pos, pos)
	return nil
}

func (s *stubSession) SetTime(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, t)
	return nil
}

func (s *stubSession) FrameDuration() time.Duration {
	return 40 * time.Millisecond
}

func (s *stubSession) counts() (plays, pauses, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays, s.pauses, s.stops
}

// stubBackend hands out one stubSession and keeps the sink for the test to drive
type stubBackend struct {
	session *stubSession
	sink    workflow.Sink
	err     error
}

func (b *stubBackend) Open(_ *timeline.Clip, _ workflow.Format, sink workflow.Sink) (workflow.Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.sink = sink
	return b.session, nil
}

// stateRecorder collects the "to" attribute of state change records
type stateRecorder struct {
	mu     sync.Mutex
	states []string
}

func (h *stateRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *stateRecorder) Handle(_ context.Context, r slog.Record) error {
	if r.Message != "workflow: state changed" {
		return nil
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "to" {
			h.mu.Lock()
			h.states = append(h.states, a.Value.String())
			h.mu.Unlock()
		}
		return true
	})
	return nil
}

func (h *stateRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *stateRecorder) WithGroup(string) slog.Handler      { return h }

func (h *stateRecorder) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.states...)
}

func mustClip(t *testing.T, source string, in, out time.Duration) *timeline.Clip {
	t.Helper()
	clip, err := timeline.NewClip(source, in, out)
	if err != nil {
		t.Fatalf("NewClip: %v", err)
	}
	return clip
}

// newPatternWorkflow initialises a workflow over a pattern source and waits until Ready
func newPatternWorkflow(t *testing.T, source string, in, out time.Duration, opts ...workflow.Option) *workflow.ClipWorkflow {
	t.Helper()

	opts = append([]workflow.Option{
		workflow.WithFormat(testFormat),
		workflow.WithTimeout(2 * time.Second),
	}, opts...)
	w := workflow.New(mustClip(t, source, in, out), player.NewBackend(), opts...)
	t.Cleanup(func() {
		if w.HasSession() {
			w.Stop()
		}
	})

	if err := w.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	return w
}

func frameIndex(w *workflow.ClipWorkflow) int64 {
	var idx int64
	w.ReadFrame(func(f workflow.Frame) {
		idx = player.PatternIndex(f.Pix)
	})
	return idx
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func isInvalidState(err error, want workflow.State) bool {
	var ise *workflow.InvalidStateError
	return errors.As(err, &ise) && ise.State == want
}

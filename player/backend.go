package player

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

// Backend opens decode sessions for clips. Sources are looked up by the
// scheme of the clip source ("pattern:..."); plain paths use the default opener.
type Backend struct {
	log *slog.Logger

	mu       sync.Mutex
	openers  map[string]Opener
	fallback Opener
	sessions map[string]*playSession
}

// BackendOption configures a Backend
type BackendOption func(*Backend)

// WithOpener registers an opener for a source scheme. The empty scheme is
// used for sources without one.
func WithOpener(scheme string, o Opener) BackendOption {
	return func(b *Backend) {
		if scheme == "" {
			b.fallback = o
			return
		}
		b.openers[scheme] = o
	}
}

// WithBackendLogger sets the backend's logger
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBackend creates a backend with the pattern opener registered
func NewBackend(opts ...BackendOption) *Backend {
	b := &Backend{
		log:      slog.Default(),
		openers:  map[string]Opener{PatternScheme: OpenPattern},
		sessions: make(map[string]*playSession),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open implements workflow.Backend
func (b *Backend) Open(clip *timeline.Clip, format workflow.Format, sink workflow.Sink) (workflow.Session, error) {
	opener, err := b.opener(clip.Source)
	if err != nil {
		return nil, err
	}

	src, err := opener(clip.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	id := uuid.NewString()
	s := newPlaySession(id, src, sink, format, b.log)

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	b.log.Debug("player: session opened", "session", id, "source", clip.Source,
		"duration", src.Duration(), "frame", src.FrameDuration())
	return &sessionHandle{playSession: s, backend: b}, nil
}

// Active returns the number of sessions not yet stopped
func (b *Backend) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close stops every session still attached
func (b *Backend) Close() {
	b.mu.Lock()
	sessions := make([]*playSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
		b.release(s.id)
	}
}

func (b *Backend) release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

func (b *Backend) opener(source string) (Opener, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	scheme := ""
	// single letters are drive names, not schemes
	if i := strings.Index(source, ":"); i > 1 {
		scheme = source[:i]
	}

	if o, ok := b.openers[scheme]; ok {
		return o, nil
	}
	if b.fallback != nil && (scheme == "" || scheme == "file") {
		return b.fallback, nil
	}
	return nil, fmt.Errorf("%w %q", ErrNoOpener, scheme)
}

// sessionHandle removes the session from the backend once stopped
type sessionHandle struct {
	*playSession
	backend *Backend
}

func (h *sessionHandle) Stop() error {
	err := h.playSession.Stop()
	h.backend.release(h.id)
	return err
}

package player

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/njyeung/scrub/workflow"
)

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPause
	cmdSeek
	cmdPosition
)

type command struct {
	kind commandKind
	t    time.Duration
	pos  float64
}

// playSession runs one decode goroutine that delivers frames into a
// workflow.Sink. Commands are queued and applied between frames, so they
// can be issued from inside sink callbacks.
type playSession struct {
	id     string
	src    Source
	sink   workflow.Sink
	format workflow.Format
	log    *slog.Logger

	mu    sync.Mutex
	queue []command
	wake  chan struct{}

	stopCh    chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newPlaySession(id string, src Source, sink workflow.Sink, format workflow.Format, log *slog.Logger) *playSession {
	s := &playSession{
		id:     id,
		src:    src,
		sink:   sink,
		format: format,
		log:    log,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *playSession) enqueue(c command) error {
	select {
	case <-s.stopCh:
		return ErrSessionStopped
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Play resumes decoding
func (s *playSession) Play() error {
	return s.enqueue(command{kind: cmdPlay})
}

// Pause stops decoding after the frame in flight; always acknowledged with SignalPaused
func (s *playSession) Pause() error {
	return s.enqueue(command{kind: cmdPause})
}

// SetTime seeks to a media time and delivers the frame there
func (s *playSession) SetTime(t time.Duration) error {
	return s.enqueue(command{kind: cmdSeek, t: t})
}

// SetPosition seeks to a position normalised to the media duration
func (s *playSession) SetPosition(pos float64) error {
	return s.enqueue(command{kind: cmdPosition, pos: min(max(pos, 0), 1)})
}

func (s *playSession) FrameDuration() time.Duration {
	return s.src.FrameDuration()
}

// Stop ends the decode goroutine, waits for it and releases the source
func (s *playSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done

	s.closeOnce.Do(func() {
		s.src.Close()
		s.log.Debug("player: session closed", "session", s.id)
	})
	return nil
}

func (s *playSession) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// next returns the next queued command; when idle and paused it blocks.
func (s *playSession) next(playing bool) (c command, ok bool, stop bool) {
	for {
		if s.stopped() {
			return command{}, false, true
		}

		s.mu.Lock()
		if len(s.queue) > 0 {
			c = s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return c, true, false
		}
		s.mu.Unlock()

		if playing {
			return command{}, false, false
		}

		select {
		case <-s.wake:
		case <-s.stopCh:
			return command{}, false, true
		}
	}
}

// sleep waits d; false when interrupted by a command or Stop
func (s *playSession) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.wake:
		return false
	case <-s.stopCh:
		return false
	}
}

func (s *playSession) run() {
	defer close(s.done)

	var (
		playing    bool
		pending    bool
		pendingPTS time.Duration
		clock      pacer
	)

	for {
		c, ok, stop := s.next(playing)
		if stop {
			s.notify(workflow.SignalStopped, pendingPTS)
			return
		}

		if ok {
			switch c.kind {
			case cmdPlay:
				if !playing {
					playing = true
					clock.reset()
					s.setAudioPaused(false)
					s.notify(workflow.SignalPlaying, pendingPTS)
				}
			case cmdPause:
				playing = false
				s.setAudioPaused(true)
				s.notify(workflow.SignalPaused, pendingPTS)
			case cmdSeek, cmdPosition:
				t := c.t
				if c.kind == cmdPosition {
					t = time.Duration(c.pos * float64(s.src.Duration()))
				}
				pending = false
				pts, err := s.src.Seek(t)
				if err != nil {
					s.endOfMedia(err)
					playing = false
					continue
				}
				if a, ok := s.src.(AudioTrack); ok {
					a.Flush()
				}
				clock.reset()
				s.deliver(pts)
			}
			continue
		}

		if !pending {
			pts, err := s.src.Decode()
			if err != nil {
				s.endOfMedia(err)
				playing = false
				s.setAudioPaused(true)
				continue
			}
			pending, pendingPTS = true, pts
		}

		if d := clock.until(pendingPTS); d > 0 && !s.sleep(d) {
			continue
		}
		pending = false
		s.deliver(pendingPTS)
	}
}

func (s *playSession) deliver(pts time.Duration) {
	buf := s.sink.Lock()
	err := s.src.Render(buf, s.format)
	s.sink.Unlock(pts)

	if err != nil {
		s.log.Warn("player: failed to render frame", "session", s.id, "pts", pts, "error", err)
	}
	s.notify(workflow.SignalPositionChanged, pts)
}

func (s *playSession) endOfMedia(err error) {
	if !errors.Is(err, io.EOF) {
		s.log.Error("player: decode failed", "session", s.id, "error", err)
	}
	s.notify(workflow.SignalEndReached, 0)
}

func (s *playSession) notify(sig workflow.Signal, pts time.Duration) {
	ev := workflow.Event{Signal: sig, Time: pts}
	if d := s.src.Duration(); d > 0 {
		ev.Position = min(float64(pts)/float64(d), 1)
	}
	s.sink.Notify(ev)
}

func (s *playSession) setAudioPaused(paused bool) {
	if a, ok := s.src.(AudioTrack); ok {
		a.SetPaused(paused)
	}
}

// pacer maps presentation times onto the wall clock from the first frame after a reset
type pacer struct {
	set       bool
	wallStart time.Time
	ptsStart  time.Duration
}

func (p *pacer) reset() {
	p.set = false
}

func (p *pacer) until(pts time.Duration) time.Duration {
	if !p.set {
		p.set = true
		p.wallStart = time.Now()
		p.ptsStart = pts
		return 0
	}
	return time.Until(p.wallStart.Add(pts - p.ptsStart))
}

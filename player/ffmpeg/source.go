// Package ffmpeg decodes media files for the player backend using FFmpeg.
package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/workflow"
)

func init() {
	// Suppress FFmpeg log messages
	astiav.SetLogLevel(astiav.LogLevelQuiet)
}

// Options configures sources opened by Opener
type Options struct {
	Audio  bool
	Volume float64 // 0..1
	Logger *slog.Logger
}

// Opener returns a player.Opener for media files
func Opener(opts Options) player.Opener {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(source string) (player.Source, error) {
		return Open(strings.TrimPrefix(source, "file:"), opts)
	}
}

// Source is a seekable media file
type Source struct {
	demux *Demuxer
	video *VideoDecoder
	audio *AudioPlayer

	duration time.Duration
	frameDur time.Duration
	draining bool
	seeking  bool
}

// Open opens a media file
func Open(path string, opts Options) (*Source, error) {
	demux, err := NewDemuxer(path)
	if err != nil {
		return nil, err
	}

	video, err := NewVideoDecoder(demux.VideoCodecParameters(), demux.VideoTimeBase())
	if err != nil {
		demux.Close()
		return nil, err
	}

	s := &Source{
		demux:    demux,
		video:    video,
		duration: demux.Duration(),
		frameDur: demux.FrameDuration(),
	}

	if opts.Audio && demux.HasAudio() {
		audio, err := NewAudioPlayer(demux.AudioCodecParameters(), opts.Volume)
		if err != nil {
			// play without audio
			opts.Logger.Warn("ffmpeg: audio disabled", "source", path, "error", err)
		} else {
			s.audio = audio
		}
	}

	return s, nil
}

// Decode implements player.Source
func (s *Source) Decode() (time.Duration, error) {
	for {
		pts, ok, err := s.video.Receive()
		if err != nil {
			return 0, err
		}
		if ok {
			return pts, nil
		}
		if s.draining {
			return 0, io.EOF
		}

		pkt, isVideo, err := s.demux.ReadPacket()
		if errors.Is(err, astiav.ErrEof) {
			s.draining = true
			if err := s.video.Send(nil); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read packet: %w", err)
		}

		switch {
		case isVideo:
			err = s.video.Send(pkt)
		case s.audio != nil && !s.seeking && s.demux.IsAudio(pkt):
			err = s.audio.DecodePacket(pkt)
		}
		pkt.Free()
		if err != nil {
			return 0, err
		}
	}
}

// Render implements player.Source
func (s *Source) Render(dst []byte, f workflow.Format) error {
	return s.video.Scale(dst, f)
}

// Seek implements player.Source. It decodes forward from the preceding key
// frame up to the first frame at t.
func (s *Source) Seek(t time.Duration) (time.Duration, error) {
	if err := s.demux.SeekTo(t); err != nil {
		return 0, err
	}
	if err := s.video.Reset(); err != nil {
		return 0, err
	}
	s.draining = false
	if s.audio != nil {
		s.audio.Flush()
	}

	s.seeking = true
	defer func() { s.seeking = false }()

	// a frame whose pts is within half a frame of t counts as t
	target := t - s.frameDur/2
	for {
		pts, err := s.Decode()
		if err != nil {
			return 0, err
		}
		if pts >= target {
			return pts, nil
		}
	}
}

func (s *Source) Duration() time.Duration      { return s.duration }
func (s *Source) FrameDuration() time.Duration { return s.frameDur }

// SetPaused implements player.AudioTrack
func (s *Source) SetPaused(paused bool) {
	if s.audio != nil {
		s.audio.SetPaused(paused)
	}
}

// Flush implements player.AudioTrack
func (s *Source) Flush() {
	if s.audio != nil {
		s.audio.Flush()
	}
}

// Close releases the decoders and the input
func (s *Source) Close() {
	if s.audio != nil {
		s.audio.Close()
	}
	s.video.Close()
	s.demux.Close()
}

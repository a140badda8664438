package ffmpeg

import (
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
)

// Demuxer handles opening media, reading packets and seeking
type Demuxer struct {
	formatCtx   *astiav.FormatContext
	videoStream *astiav.Stream
	audioStream *astiav.Stream
	videoIdx    int
	audioIdx    int

	mu     sync.Mutex
	closed bool
}

// NewDemuxer creates a demuxer for the given path
func NewDemuxer(path string) (*Demuxer, error) {
	d := &Demuxer{
		videoIdx: -1,
		audioIdx: -1,
	}

	d.formatCtx = astiav.AllocFormatContext()
	if d.formatCtx == nil {
		return nil, fmt.Errorf("failed to allocate format context")
	}

	if err := d.formatCtx.OpenInput(path, nil, nil); err != nil {
		d.formatCtx.Free()
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	if err := d.formatCtx.FindStreamInfo(nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to find stream info: %w", err)
	}

	for _, stream := range d.formatCtx.Streams() {
		switch stream.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if d.videoIdx == -1 {
				d.videoIdx = stream.Index()
				d.videoStream = stream
			}
		case astiav.MediaTypeAudio:
			if d.audioIdx == -1 {
				d.audioIdx = stream.Index()
				d.audioStream = stream
			}
		}
	}

	if d.videoIdx == -1 {
		d.Close()
		return nil, fmt.Errorf("no video stream found")
	}

	return d, nil
}

// VideoCodecParameters returns the video codec parameters
func (d *Demuxer) VideoCodecParameters() *astiav.CodecParameters {
	return d.videoStream.CodecParameters()
}

// AudioCodecParameters returns the audio codec parameters
func (d *Demuxer) AudioCodecParameters() *astiav.CodecParameters {
	if d.audioStream == nil {
		return nil
	}
	return d.audioStream.CodecParameters()
}

// HasAudio returns true if there's an audio stream
func (d *Demuxer) HasAudio() bool {
	return d.audioIdx != -1
}

// VideoTimeBase returns the video stream time base
func (d *Demuxer) VideoTimeBase() astiav.Rational {
	return d.videoStream.TimeBase()
}

// Duration returns the container duration
func (d *Demuxer) Duration() time.Duration {
	if us := d.formatCtx.Duration(); us > 0 {
		return time.Duration(us) * time.Microsecond
	}
	return toDuration(d.videoStream.Duration(), d.videoStream.TimeBase())
}

// FrameDuration returns the nominal video frame duration, 25 fps when unknown
func (d *Demuxer) FrameDuration() time.Duration {
	rate := d.videoStream.AvgFrameRate()
	if rate.Num() <= 0 || rate.Den() <= 0 {
		return time.Second / 25
	}
	return time.Duration(float64(time.Second) * float64(rate.Den()) / float64(rate.Num()))
}

// ReadPacket reads the next packet from the stream.
// Returns the packet and whether it's a video packet (true) or audio packet (false).
// Returns nil, false, astiav.ErrEof when the stream ends.
func (d *Demuxer) ReadPacket() (*astiav.Packet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false, fmt.Errorf("demuxer closed")
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		return nil, false, fmt.Errorf("failed to allocate packet")
	}

	if err := d.formatCtx.ReadFrame(pkt); err != nil {
		pkt.Free()
		return nil, false, err
	}

	return pkt, pkt.StreamIndex() == d.videoIdx, nil
}

// IsAudio reports whether pkt belongs to the audio stream
func (d *Demuxer) IsAudio(pkt *astiav.Packet) bool {
	return d.audioIdx != -1 && pkt.StreamIndex() == d.audioIdx
}

// SeekTo positions the demuxer on the key frame at or before t
func (d *Demuxer) SeekTo(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("demuxer closed")
	}

	ts := fromDuration(t, d.videoStream.TimeBase())
	if err := d.formatCtx.SeekFrame(d.videoIdx, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("failed to seek to %s: %w", t, err)
	}
	return nil
}

// Close releases all resources
func (d *Demuxer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	if d.formatCtx != nil {
		d.formatCtx.CloseInput()
		d.formatCtx.Free()
		d.formatCtx = nil
	}
}

// toDuration converts a timestamp in tb units
func toDuration(ts int64, tb astiav.Rational) time.Duration {
	if tb.Den() == 0 {
		return 0
	}
	return time.Duration(float64(ts) * float64(tb.Num()) / float64(tb.Den()) * float64(time.Second))
}

// fromDuration converts t to tb units
func fromDuration(t time.Duration, tb astiav.Rational) int64 {
	if tb.Num() == 0 {
		return 0
	}
	return int64(t.Seconds() * float64(tb.Den()) / float64(tb.Num()))
}

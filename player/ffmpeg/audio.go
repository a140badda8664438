package ffmpeg

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// AudioSampleRate for resampling
const AudioSampleRate = 44100

var (
	speakerOnce sync.Once
	speakerErr  error
)

// initSpeaker opens the audio device on first use
func initSpeaker() error {
	speakerOnce.Do(func() {
		sr := beep.SampleRate(AudioSampleRate)
		speakerErr = speaker.Init(sr, sr.N(50*time.Millisecond))
	})
	return speakerErr
}

// AudioPlayer decodes a clip's audio and plays it through the shared speaker
type AudioPlayer struct {
	codecCtx *astiav.CodecContext
	swrCtx   *astiav.SoftwareResampleContext
	frame    *astiav.Frame

	paused  atomic.Bool
	started atomic.Bool

	streamer *audioStreamer
	ctrl     *beep.Ctrl
	volume   *effects.Volume

	// Sample buffer for decoded audio (s16le stereo)
	sampleBuf []byte
	buffMu    sync.Mutex

	closed bool
	mu     sync.Mutex
}

// audioStreamer implements beep.Streamer for our decoded audio
type audioStreamer struct {
	player *AudioPlayer
}

func (s *audioStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	s.player.buffMu.Lock()
	defer s.player.buffMu.Unlock()

	// when paused, fill buff with silence
	if s.player.paused.Load() {
		for i := range samples {
			samples[i][0] = 0
			samples[i][1] = 0
		}
		return len(samples), true
	}

	// sampleBuf (raw bytes from FFmpeg):
	// ┌────┬────┬────┬────┬────┬────┬────┬────┬─...
	// │ L0 │ L0 │ R0 │ R0 │ L1 │ L1 │ R1 │ R1 │
	// │ lo │ hi │ lo │ hi │ lo │ hi │ lo │ hi │
	// └────┴────┴────┴────┴────┴────┴────┴────┴─...
	//
	// (4 bytes = 1 stereo sample)
	const bytesPerSample = 4
	const maxInt16 = float64(32767)

	buf := s.player.sampleBuf
	for i := range samples {
		if len(buf) < bytesPerSample {
			// no more data, fill rest with silence but keep streaming
			for j := i; j < len(samples); j++ {
				samples[j][0] = 0
				samples[j][1] = 0
			}
			break
		}

		left := int16(buf[0]) | int16(buf[1])<<8
		right := int16(buf[2]) | int16(buf[3])<<8
		samples[i][0] = float64(left) / maxInt16
		samples[i][1] = float64(right) / maxInt16

		buf = buf[bytesPerSample:]
	}
	s.player.sampleBuf = buf

	return len(samples), true
}

func (s *audioStreamer) Err() error {
	return nil
}

// NewAudioPlayer creates an audio player from codec parameters. volume is
// in the 0..1 range.
func NewAudioPlayer(params *astiav.CodecParameters, volume float64) (*AudioPlayer, error) {
	if err := initSpeaker(); err != nil {
		return nil, fmt.Errorf("failed to initialise speaker: %w", err)
	}

	a := &AudioPlayer{
		sampleBuf: make([]byte, 0, 192000), // ~1 second buffer
	}
	a.paused.Store(true)

	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("audio codec not found: %s", params.CodecID())
	}

	a.codecCtx = astiav.AllocCodecContext(codec)
	if a.codecCtx == nil {
		return nil, fmt.Errorf("failed to allocate audio codec context")
	}

	if err := params.ToCodecContext(a.codecCtx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to copy audio codec params: %w", err)
	}

	if err := a.codecCtx.Open(codec, nil); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open audio codec: %w", err)
	}

	a.frame = astiav.AllocFrame()

	// configured on first frame
	a.swrCtx = astiav.AllocSoftwareResampleContext()
	if a.swrCtx == nil {
		a.Close()
		return nil, fmt.Errorf("failed to allocate swr context")
	}

	a.streamer = &audioStreamer{player: a}
	a.volume = &effects.Volume{
		Streamer: a.streamer,
		Base:     2,
		Volume:   volumeLevel(volume),
		Silent:   volume <= 0,
	}
	a.ctrl = &beep.Ctrl{Streamer: a.volume}

	return a, nil
}

// volumeLevel maps 0..1 onto the logarithmic scale of effects.Volume
func volumeLevel(v float64) float64 {
	switch {
	case v <= 0:
		return -10
	case v >= 1:
		return 0
	default:
		// halving the linear volume is one step down
		level := 0.0
		for v < 1 && level > -10 {
			v *= 2
			level--
		}
		return level
	}
}

// DecodePacket decodes an audio packet and queues samples for playback
func (a *AudioPlayer) DecodePacket(pkt *astiav.Packet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("audio player closed")
	}

	if err := a.codecCtx.SendPacket(pkt); err != nil {
		return fmt.Errorf("failed to send audio packet: %w", err)
	}

	for {
		if err := a.codecCtx.ReceiveFrame(a.frame); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				break
			}
			return fmt.Errorf("failed to receive audio frame: %w", err)
		}

		outFrame := astiav.AllocFrame()
		outFrame.SetSampleFormat(astiav.SampleFormatS16)
		outFrame.SetSampleRate(AudioSampleRate)
		outFrame.SetChannelLayout(astiav.ChannelLayoutStereo)
		outFrame.SetNbSamples(a.frame.NbSamples())

		if err := outFrame.AllocBuffer(0); err != nil {
			a.frame.Unref()
			outFrame.Free()
			continue
		}

		// Skip frames that fail to resample instead of erroring
		if err := a.swrCtx.ConvertFrame(a.frame, outFrame); err != nil {
			a.frame.Unref()
			outFrame.Free()
			continue
		}

		// plane 0 for interleaved S16
		if data := outFrame.Data(); data != nil {
			byteSize := outFrame.NbSamples() * 2 * 2 // 2 channels * 2 bytes per sample
			plane, err := data.Bytes(0)
			if err == nil && len(plane) >= byteSize {
				a.buffMu.Lock()
				a.sampleBuf = append(a.sampleBuf, plane[:byteSize]...)
				a.buffMu.Unlock()
			}
		}

		a.frame.Unref()
		outFrame.Free()
	}

	return nil
}

// SetPaused pauses or resumes output. The streamer joins the speaker on the
// first resume.
func (a *AudioPlayer) SetPaused(paused bool) {
	a.paused.Store(paused)
	if !paused && a.started.CompareAndSwap(false, true) {
		speaker.Play(a.ctrl)
	}
}

// Flush drops queued samples
func (a *AudioPlayer) Flush() {
	a.buffMu.Lock()
	a.sampleBuf = a.sampleBuf[:0]
	a.buffMu.Unlock()
}

// BufferSize returns the current size of the audio buffer in bytes
func (a *AudioPlayer) BufferSize() int {
	a.buffMu.Lock()
	defer a.buffMu.Unlock()
	return len(a.sampleBuf)
}

// Close detaches from the speaker and releases all resources
func (a *AudioPlayer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true

	if a.ctrl != nil && a.started.Load() {
		// a nil streamer ends this ctrl without touching other clips' audio
		speaker.Lock()
		a.ctrl.Streamer = nil
		speaker.Unlock()
	}

	if a.frame != nil {
		a.frame.Free()
		a.frame = nil
	}
	if a.swrCtx != nil {
		a.swrCtx.Free()
		a.swrCtx = nil
	}
	if a.codecCtx != nil {
		a.codecCtx.Free()
		a.codecCtx = nil
	}
}

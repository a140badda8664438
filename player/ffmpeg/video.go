package ffmpeg

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/njyeung/scrub/workflow"
)

// VideoDecoder decodes video frames and scales them to RGBA
type VideoDecoder struct {
	params    *astiav.CodecParameters
	codecCtx  *astiav.CodecContext
	swsCtx    *astiav.SoftwareScaleContext
	frame     *astiav.Frame
	rgbaFrame *astiav.Frame
	valid     bool

	dstWidth  int
	dstHeight int

	timeBase astiav.Rational

	mu     sync.Mutex
	closed bool
}

// NewVideoDecoder creates a video decoder from codec parameters
func NewVideoDecoder(params *astiav.CodecParameters, timeBase astiav.Rational) (*VideoDecoder, error) {
	v := &VideoDecoder{
		params:   params,
		timeBase: timeBase,
	}

	if err := v.openCodec(); err != nil {
		return nil, err
	}

	v.frame = astiav.AllocFrame()
	v.rgbaFrame = astiav.AllocFrame()
	return v, nil
}

func (v *VideoDecoder) openCodec() error {
	codec := astiav.FindDecoder(v.params.CodecID())
	if codec == nil {
		return fmt.Errorf("video codec not found: %s", v.params.CodecID())
	}

	v.codecCtx = astiav.AllocCodecContext(codec)
	if v.codecCtx == nil {
		return fmt.Errorf("failed to allocate video codec context")
	}

	if err := v.params.ToCodecContext(v.codecCtx); err != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
		return fmt.Errorf("failed to copy video codec params: %w", err)
	}

	if err := v.codecCtx.Open(codec, nil); err != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
		return fmt.Errorf("failed to open video codec: %w", err)
	}
	return nil
}

// Reset discards every buffered frame by reopening the codec. Used after seeks.
func (v *VideoDecoder) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("video decoder closed")
	}
	if v.codecCtx != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
	}
	v.frame.Unref()
	v.valid = false
	return v.openCodec()
}

// Send feeds a packet to the decoder; nil starts draining
func (v *VideoDecoder) Send(pkt *astiav.Packet) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("video decoder closed")
	}
	if err := v.codecCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("failed to send video packet: %w", err)
	}
	return nil
}

// Receive takes the next decoded frame. ok is false when the decoder needs
// more input (or is drained).
func (v *VideoDecoder) Receive() (pts time.Duration, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0, false, fmt.Errorf("video decoder closed")
	}

	v.valid = false
	if err := v.codecCtx.ReceiveFrame(v.frame); err != nil {
		if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to receive video frame: %w", err)
	}
	v.valid = true

	return toDuration(v.frame.Pts(), v.timeBase), true, nil
}

// Scale converts the last received frame into dst at the given geometry
func (v *VideoDecoder) Scale(dst []byte, f workflow.Format) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.valid {
		return fmt.Errorf("no frame decoded")
	}
	if f.Width != v.dstWidth || f.Height != v.dstHeight || v.swsCtx == nil {
		if err := v.initSwsContext(f.Width, f.Height); err != nil {
			return err
		}
	}

	if err := v.swsCtx.ScaleFrame(v.frame, v.rgbaFrame); err != nil {
		return fmt.Errorf("failed to scale frame: %w", err)
	}

	rgba, err := v.rgbaFrame.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("failed to get RGBA bytes: %w", err)
	}
	copy(dst, rgba)
	return nil
}

func (v *VideoDecoder) initSwsContext(width, height int) error {
	if v.swsCtx != nil {
		v.swsCtx.Free()
		v.swsCtx = nil
	}
	v.rgbaFrame.Unref()

	var err error
	v.swsCtx, err = astiav.CreateSoftwareScaleContext(
		v.frame.Width(), v.frame.Height(), v.frame.PixelFormat(),
		width, height, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("failed to create sws context: %w", err)
	}

	v.rgbaFrame.SetWidth(width)
	v.rgbaFrame.SetHeight(height)
	v.rgbaFrame.SetPixelFormat(astiav.PixelFormatRgba)
	if err := v.rgbaFrame.AllocBuffer(1); err != nil {
		return fmt.Errorf("failed to allocate RGBA frame buffer: %w", err)
	}

	v.dstWidth = width
	v.dstHeight = height
	return nil
}

// Close releases all resources
func (v *VideoDecoder) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	if v.frame != nil {
		v.frame.Free()
		v.frame = nil
	}
	if v.rgbaFrame != nil {
		v.rgbaFrame.Free()
		v.rgbaFrame = nil
	}
	if v.swsCtx != nil {
		v.swsCtx.Free()
		v.swsCtx = nil
	}
	if v.codecCtx != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
	}
}

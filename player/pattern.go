package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/njyeung/scrub/workflow"
)

const (
	PatternScheme = "pattern"

	defaultPatternFPS      = 25
	defaultPatternDuration = 10 * time.Second
)

// bar colours, left to right
var patternBars = [8][3]byte{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

// patternSource generates colour bars with a sweeping column. The index of
// the frame is stored in the first pixel so consumers can tell frames apart.
type patternSource struct {
	frameDur time.Duration
	frames   int64
	next     int64
	cur      int64
}

// OpenPattern opens a "pattern:fps=25,duration=10s" source
func OpenPattern(source string) (Source, error) {
	fps := float64(defaultPatternFPS)
	duration := defaultPatternDuration

	params := strings.TrimPrefix(source, PatternScheme+":")
	for _, kv := range strings.Split(params, ",") {
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid pattern parameter %q", kv)
		}

		switch strings.TrimSpace(key) {
		case "fps":
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("invalid pattern fps %q", value)
			}
			fps = v
		case "duration":
			d, err := time.ParseDuration(strings.TrimSpace(value))
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("invalid pattern duration %q", value)
			}
			duration = d
		default:
			return nil, fmt.Errorf("unknown pattern parameter %q", key)
		}
	}

	frameDur := time.Duration(float64(time.Second) / fps)
	frames := int64(duration / frameDur)
	if frames < 1 {
		frames = 1
	}

	return &patternSource{
		frameDur: frameDur,
		frames:   frames,
		cur:      -1,
	}, nil
}

func (p *patternSource) Decode() (time.Duration, error) {
	if p.next >= p.frames {
		return 0, io.EOF
	}
	p.cur = p.next
	p.next++
	return p.pts(p.cur), nil
}

func (p *patternSource) Seek(t time.Duration) (time.Duration, error) {
	idx := int64(max(t, 0) / p.frameDur)
	if idx >= p.frames {
		return 0, io.EOF
	}
	p.cur = idx
	p.next = idx + 1
	return p.pts(idx), nil
}

func (p *patternSource) Render(dst []byte, f workflow.Format) error {
	if p.cur < 0 {
		return fmt.Errorf("no frame decoded")
	}
	if len(dst) < f.FrameSize() {
		return fmt.Errorf("buffer too small: %d < %d", len(dst), f.FrameSize())
	}

	sweep := int(p.cur % int64(f.Width))
	stride := f.Width * workflow.BytesPerPixel

	for y := 0; y < f.Height; y++ {
		row := dst[y*stride : (y+1)*stride]
		for x := 0; x < f.Width; x++ {
			c := patternBars[x*len(patternBars)/f.Width]
			if x == sweep {
				c = [3]byte{255, 255, 255}
			}
			i := x * workflow.BytesPerPixel
			row[i] = c[0]
			row[i+1] = c[1]
			row[i+2] = c[2]
			row[i+3] = 255
		}
	}

	binary.LittleEndian.PutUint32(dst[:4], uint32(p.cur))
	return nil
}

func (p *patternSource) Duration() time.Duration {
	return time.Duration(p.frames) * p.frameDur
}

func (p *patternSource) FrameDuration() time.Duration {
	return p.frameDur
}

func (p *patternSource) Close() {}

func (p *patternSource) pts(idx int64) time.Duration {
	return time.Duration(idx) * p.frameDur
}

// PatternIndex returns the frame index a pattern source stored in pix
func PatternIndex(pix []byte) int64 {
	if len(pix) < 4 {
		return -1
	}
	return int64(binary.LittleEndian.Uint32(pix[:4]))
}

package player

import (
	"errors"
	"io"
	"testing"
	"time"
)

func TestOpenPattern(t *testing.T) {
	tests := []struct {
		source   string
		frameDur time.Duration
		duration time.Duration
		wantErr  bool
	}{
		{source: "pattern:", frameDur: 40 * time.Millisecond, duration: 10 * time.Second},
		{source: "pattern:fps=50,duration=2s", frameDur: 20 * time.Millisecond, duration: 2 * time.Second},
		{source: "pattern:duration=1s", frameDur: 40 * time.Millisecond, duration: time.Second},
		{source: "pattern:fps=0", wantErr: true},
		{source: "pattern:duration=soon", wantErr: true},
		{source: "pattern:size=10", wantErr: true},
		{source: "pattern:fps", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			src, err := OpenPattern(tt.source)
			if tt.wantErr {
				if err == nil {
					t.Fatal("OpenPattern succeeded")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenPattern: %v", err)
			}
			if got := src.FrameDuration(); got != tt.frameDur {
				t.Errorf("FrameDuration() = %v, want %v", got, tt.frameDur)
			}
			if got := src.Duration(); got != tt.duration {
				t.Errorf("Duration() = %v, want %v", got, tt.duration)
			}
		})
	}
}

func TestPatternDecodeAndSeek(t *testing.T) {
	src, err := OpenPattern("pattern:fps=25,duration=1s")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, testFormat.FrameSize())

	if err := src.Render(buf, testFormat); err == nil {
		t.Error("Render before Decode succeeded")
	}

	for i := int64(0); i < 3; i++ {
		pts, err := src.Decode()
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if pts != time.Duration(i)*40*time.Millisecond {
			t.Errorf("frame %d pts = %v", i, pts)
		}
		if err := src.Render(buf, testFormat); err != nil {
			t.Fatalf("Render: %v", err)
		}
		if got := PatternIndex(buf); got != i {
			t.Errorf("PatternIndex = %d, want %d", got, i)
		}
	}

	pts, err := src.Seek(500 * time.Millisecond)
	if err != nil || pts != 480*time.Millisecond {
		t.Fatalf("Seek(500ms) = %v, %v, want 480ms", pts, err)
	}
	if pts, _ := src.Decode(); pts != 520*time.Millisecond {
		t.Errorf("Decode after seek pts = %v, want 520ms", pts)
	}

	if _, err := src.Seek(time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("Seek(1s) error = %v, want io.EOF", err)
	}

	if _, err := src.Seek(960 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("Decode past the last frame error = %v, want io.EOF", err)
	}
}

func TestPatternRenderTooSmall(t *testing.T) {
	src, _ := OpenPattern("pattern:")
	if _, err := src.Decode(); err != nil {
		t.Fatal(err)
	}
	if err := src.Render(make([]byte, 8), testFormat); err == nil {
		t.Error("Render into a short buffer succeeded")
	}
	if got := PatternIndex(nil); got != -1 {
		t.Errorf("PatternIndex(nil) = %d, want -1", got)
	}
}

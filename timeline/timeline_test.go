package timeline

import (
	"errors"
	"testing"
	"time"
)

func TestParseClipArg(t *testing.T) {
	tests := []struct {
		arg     string
		in, out time.Duration
		wantErr bool
	}{
		{arg: "a.mp4"},
		{arg: "a.mp4@2s-5s", in: 2 * time.Second, out: 5 * time.Second},
		{arg: "a.mp4@1.5s-", in: 1500 * time.Millisecond},
		{arg: "pattern:fps=25,duration=6s@-3s", out: 3 * time.Second},
		{arg: "a.mp4@5s-2s", wantErr: true},
		{arg: "a.mp4@2s", wantErr: true},
		{arg: "a.mp4@x-5s", wantErr: true},
		{arg: "@1s-2s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			c, err := ParseClipArg(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClipArg(%q) = %v, want error", tt.arg, c)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClipArg(%q): %v", tt.arg, err)
			}
			if c.In != tt.in || c.Out != tt.out {
				t.Errorf("range = %v-%v, want %v-%v", c.In, c.Out, tt.in, tt.out)
			}
			if c.ID == "" {
				t.Error("clip has no id")
			}
		})
	}
}

func TestClipLength(t *testing.T) {
	c, _ := NewClip("a.mp4", 2*time.Second, 5*time.Second)
	if got := c.Length(); got != 3*time.Second {
		t.Errorf("Length() = %v, want 3s", got)
	}

	open, _ := NewClip("a.mp4", 2*time.Second, 0)
	if open.Bounded() || open.Length() != Open {
		t.Errorf("open clip: bounded %v length %v", open.Bounded(), open.Length())
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	tl := New()
	a, _ := NewClip("a.mp4", 0, 4*time.Second)
	b, _ := NewClip("b.mp4", 0, 4*time.Second)

	if _, err := tl.Add(0, 0, a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := tl.Add(0, 2*time.Second, b); !errors.Is(err, ErrOverlap) {
		t.Fatalf("overlapping Add error = %v, want ErrOverlap", err)
	}
	if _, err := tl.Add(1, 2*time.Second, b); err != nil {
		t.Fatalf("Add on another track: %v", err)
	}
	if _, err := tl.Add(0, -time.Second, b); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("negative start error = %v, want ErrInvalidRange", err)
	}
}

func TestActiveAtAndBoundaries(t *testing.T) {
	tl := New()
	a, _ := NewClip("a.mp4", time.Second, 3*time.Second)
	b, _ := NewClip("b.mp4", 0, 4*time.Second)
	c, _ := NewClip("c.mp4", 0, time.Second)

	if _, err := tl.Append(0, a); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Append(0, b); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Add(1, time.Second, c); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pos  time.Duration
		want []string
	}{
		{0, []string{"a.mp4"}},
		{1500 * time.Millisecond, []string{"a.mp4", "c.mp4"}},
		{2 * time.Second, []string{"b.mp4"}},
		{6 * time.Second, nil},
	}
	for _, tt := range tests {
		active := tl.ActiveAt(tt.pos)
		if len(active) != len(tt.want) {
			t.Fatalf("ActiveAt(%v) = %d placements, want %d", tt.pos, len(active), len(tt.want))
		}
		for i, p := range active {
			if p.Clip.Source != tt.want[i] {
				t.Errorf("ActiveAt(%v)[%d] = %s, want %s", tt.pos, i, p.Clip.Source, tt.want[i])
			}
		}
	}

	if got := tl.ActiveAt(2500 * time.Millisecond)[0].MediaTime(2500 * time.Millisecond); got != 500*time.Millisecond {
		t.Errorf("MediaTime = %v, want 500ms", got)
	}

	if next, ok := tl.NextBoundary(0); !ok || next != time.Second {
		t.Errorf("NextBoundary(0) = %v, %v, want 1s", next, ok)
	}
	if next, ok := tl.NextBoundary(time.Second); !ok || next != 2*time.Second {
		t.Errorf("NextBoundary(1s) = %v, %v, want 2s", next, ok)
	}
	if _, ok := tl.NextBoundary(6 * time.Second); ok {
		t.Error("NextBoundary past the end found a boundary")
	}
	if got := tl.Duration(); got != 6*time.Second {
		t.Errorf("Duration() = %v, want 6s", got)
	}
}

func TestAppendAfterOpenClip(t *testing.T) {
	tl := New()
	a, _ := NewClip("a.mp4", 0, 0)
	b, _ := NewClip("b.mp4", 0, time.Second)

	if _, err := tl.Append(0, a); err != nil {
		t.Fatal(err)
	}
	if _, err := tl.Append(0, b); !errors.Is(err, ErrOverlap) {
		t.Fatalf("Append after open clip error = %v, want ErrOverlap", err)
	}
}

func TestParseEditList(t *testing.T) {
	data := []byte(`
tracks:
  - clips:
      - source: intro.mp4
        in: 2s
        out: 5s
      - source: pattern:fps=25,duration=10s
        out: 4s
  - clips:
      - source: overlay.mp4
        start: 1s
        out: 1s
`)
	tl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tl.Len())
	}
	if got := tl.Duration(); got != 7*time.Second {
		t.Errorf("Duration() = %v, want 7s", got)
	}

	ps := tl.Placements()
	if ps[1].Clip.Source != "overlay.mp4" || ps[1].Track != 1 || ps[1].Start != time.Second {
		t.Errorf("overlay placement = %+v", ps[1])
	}
	if ps[2].Start != 3*time.Second {
		t.Errorf("second clip starts at %v, want 3s", ps[2].Start)
	}
}

func TestParseEditListErrors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":  "tracks: [",
		"bad range": "tracks:\n  - clips:\n      - source: a.mp4\n        in: 5s\n        out: 2s\n",
		"bad start": "tracks:\n  - clips:\n      - source: a.mp4\n        start: soon\n",
		"overlap":   "tracks:\n  - clips:\n      - source: a.mp4\n        out: 4s\n      - source: b.mp4\n        start: 1s\n        out: 4s\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Error("Parse succeeded")
			}
		})
	}
}

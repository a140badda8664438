package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/player/ffmpeg"
	"github.com/njyeung/scrub/renderer"
	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/workflow"
)

func main() {
	source := flag.String("clip", "pattern:fps=25,duration=6s@2s-5s", "Clip as source[@in-out], or a YAML edit list with -edl")
	edl := flag.String("edl", "", "YAML edit list (overrides -clip)")
	steps := flag.Int("steps", 3, "Frames to step forward")
	back := flag.Int("back", 1, "Frames to step back afterwards")
	play := flag.Duration("play", 0, "Play for this long after stepping")
	width := flag.Int("width", 160, "Frame width in pixels")
	height := flag.Int("height", 90, "Frame height in pixels")
	timeout := flag.Duration("timeout", workflow.DefaultTimeout, "Workflow wait timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	tl, err := buildTimeline(*source, *edl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	backend := player.NewBackend(
		player.WithBackendLogger(logger),
		player.WithOpener("", ffmpeg.Opener(ffmpeg.Options{Logger: logger})),
	)
	defer backend.Close()

	presented := 0
	surface := renderer.SurfaceFunc(func(f workflow.Frame) error {
		presented++
		fmt.Printf("frame %4d  pts %-12v  crc %08x  pattern %d\n",
			presented, f.PTS, crc32.ChecksumIEEE(f.Pix), player.PatternIndex(f.Pix))
		return nil
	})

	r := renderer.New(tl, backend, surface,
		renderer.WithLogger(logger),
		renderer.WithFormat(workflow.Format{Width: *width, Height: *height}),
		renderer.WithTimeout(*timeout),
	)
	defer r.Close()

	go func() {
		for ev := range r.Events() {
			if ev.Kind == renderer.EventPosition {
				continue
			}
			fmt.Printf("event %-12s at %v\n", ev.Kind, ev.Position)
		}
	}()

	ctx := context.Background()
	if err := r.Load(ctx, 0); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for range *steps {
		if err := r.NextFrame(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: next frame: %v\n", err)
			os.Exit(1)
		}
	}
	for range *back {
		if err := r.PreviousFrame(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: previous frame: %v\n", err)
			os.Exit(1)
		}
	}

	if *play > 0 {
		if err := r.Play(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: play: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(*play)
		if err := r.Pause(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: pause: %v\n", err)
			os.Exit(1)
		}
	}

	info := r.Info()
	fmt.Printf("status %s  position %v  presented %d\n", info.Status, info.Position, presented)

	if err := r.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: stop: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("sessions left %d\n", backend.Active())
}

func buildTimeline(source, edl string) (*timeline.Timeline, error) {
	if edl != "" {
		return timeline.Load(edl)
	}
	clip, err := timeline.ParseClipArg(source)
	if err != nil {
		return nil, err
	}
	tl := timeline.New()
	if _, err := tl.Add(0, 0, clip); err != nil {
		return nil, err
	}
	return tl, nil
}

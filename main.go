package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/njyeung/scrub/config"
	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/player/ffmpeg"
	"github.com/njyeung/scrub/renderer"
	"github.com/njyeung/scrub/timeline"
	"github.com/njyeung/scrub/tui"
)

func main() {
	configDir := flag.String("config", "", "Config directory (default: user config dir)/scrub")
	width := flag.Int("width", 0, "Frame width in pixels (overrides max_width)")
	height := flag.Int("height", 0, "Frame height in pixels (overrides max_height)")
	noAudio := flag.Bool("no-audio", false, "Disable clip audio")
	noShm := flag.Bool("no-shm", false, "Never send frames through shared memory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: scrub [flags] <edit-list.yaml | media[@in-out]...>\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  scrub project.yaml\n")
		fmt.Fprintf(os.Stderr, "  scrub intro.mp4@2s-5s outro.mp4\n")
		fmt.Fprintf(os.Stderr, "  scrub pattern:fps=25,duration=10s\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	dir := *configDir
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dir = d
	}
	if err := config.Init(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	settings := config.LoadSettings(dir)
	if *width > 0 {
		settings.MaxWidth = *width
	}
	if *height > 0 {
		settings.MaxHeight = *height
	}
	if *noAudio {
		settings.Audio = false
	}
	if *noShm {
		settings.UseShm = false
	}
	if *debug {
		settings.LogLevel = "debug"
	}

	logger, closer, err := config.OpenLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	tl, err := loadTimeline(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("scrub: timeline loaded", "clips", tl.Len(), "duration", tl.Duration())

	// must run before bubbletea takes the terminal
	useShm := settings.UseShm && player.ShmSupported()

	backend := player.NewBackend(
		player.WithBackendLogger(logger),
		player.WithOpener("", ffmpeg.Opener(ffmpeg.Options{
			Audio:  settings.Audio,
			Volume: settings.Volume,
			Logger: logger,
		})),
	)
	defer backend.Close()

	surface := player.NewKittyRenderer(os.Stdout)
	surface.SetUseShm(useShm)

	r := renderer.New(tl, backend, surface,
		renderer.WithLogger(logger),
		renderer.WithFormat(settings.Format()),
		renderer.WithTimeout(settings.ReadyTimeout),
	)

	p := tea.NewProgram(tui.NewModel(r, surface, settings, dir, logger), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadTimeline reads a YAML edit list, or places the given clips one after another
func loadTimeline(args []string) (*timeline.Timeline, error) {
	if len(args) == 1 {
		switch strings.ToLower(filepath.Ext(args[0])) {
		case ".yaml", ".yml":
			return timeline.Load(args[0])
		}
	}

	tl := timeline.New()
	for _, arg := range args {
		clip, err := timeline.ParseClipArg(arg)
		if err != nil {
			return nil, err
		}
		if _, err := tl.Append(0, clip); err != nil {
			return nil, err
		}
	}
	return tl, nil
}

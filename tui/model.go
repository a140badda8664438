package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/njyeung/scrub/config"
	"github.com/njyeung/scrub/player"
	"github.com/njyeung/scrub/renderer"
)

// seekStep is the fraction of the timeline [ and ] move by
const seekStep = 0.05

// Messages
type (
	loadedMsg        struct{ err error }
	rendererEventMsg renderer.Event
	transportMsg     struct {
		op  string
		err error
	}
	audioToggledMsg struct {
		on  bool
		err error
	}
)

type state int

const (
	stateLoading state = iota
	statePreview
	stateError
)

// Model is the Bubble Tea model of the preview
type Model struct {
	state    state
	renderer *renderer.Renderer
	surface  *player.KittyRenderer
	log      *slog.Logger
	timeout  time.Duration

	configDir string
	audio     bool

	width   int
	height  int
	spinner spinner.Model
	err     error
	status  string
	info    renderer.Info

	// Video pixel dimensions
	videoWidthPx  int
	videoHeightPx int
}

// NewModel creates the preview model. r must not be loaded yet.
func NewModel(r *renderer.Renderer, surface *player.KittyRenderer, settings config.Settings, configDir string, log *slog.Logger) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	if log == nil {
		log = slog.Default()
	}

	return Model{
		state:         stateLoading,
		renderer:      r,
		surface:       surface,
		log:           log,
		timeout:       2 * settings.ReadyTimeout,
		configDir:     configDir,
		audio:         settings.Audio,
		spinner:       s,
		status:        "Loading timeline...",
		videoWidthPx:  settings.MaxWidth,
		videoHeightPx: settings.MaxHeight,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.load(0),
		m.listenForEvents,
	)
}

func (m Model) load(at time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return loadedMsg{m.renderer.Load(ctx, at)}
	}
}

func (m Model) listenForEvents() tea.Msg {
	event, ok := <-m.renderer.Events()
	if !ok {
		return nil
	}
	return rendererEventMsg(event)
}

// transport runs a blocking transport operation off the UI goroutine
func (m Model) transport(op string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return transportMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) toggleAudio() tea.Msg {
	on, err := config.ToggleAudio(m.configDir)
	return audioToggledMsg{on: on, err: err}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.renderer.Close()
			if err := m.surface.Clear(); err != nil {
				m.log.Warn("tui: failed to clear surface", "error", err)
			}
			return m, tea.Quit
		}

		switch m.state {
		case statePreview:
			return m.updatePreview(msg)
		case stateError:
			if msg.String() == "r" {
				m.state = stateLoading
				m.status = "Loading timeline..."
				m.err = nil
				return m, m.load(0)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.placeVideo()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadedMsg:
		if msg.err != nil {
			m.log.Error("tui: failed to load timeline", "error", msg.err)
			m.state = stateError
			m.err = msg.err
			return m, nil
		}
		m.state = statePreview
		m.status = ""
		m.info = m.renderer.Info()

	case rendererEventMsg:
		m.info = m.renderer.Info()
		switch msg.Kind {
		case renderer.EventError:
			m.status = fmt.Sprintf("Error: %v", msg.Err)
		case renderer.EventEndReached:
			m.status = "End of timeline"
		case renderer.EventStopped:
			m.status = "Stopped"
		case renderer.EventPlaying, renderer.EventLoaded:
			m.status = ""
		}
		return m, m.listenForEvents

	case transportMsg:
		m.info = m.renderer.Info()
		if msg.err != nil {
			m.log.Warn("tui: transport failed", "op", msg.op, "error", msg.err)
			m.status = fmt.Sprintf("%s: %v", msg.op, msg.err)
		}

	case audioToggledMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Could not save settings: %v", msg.err)
			return m, nil
		}
		m.audio = msg.on
		if m.audio {
			m.status = "Audio on (press r to reload)"
		} else {
			m.status = "Audio off (press r to reload)"
		}
	}

	return m, nil
}

func (m Model) updatePreview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	r := m.renderer

	switch key := msg.String(); key {
	case " ":
		return m, m.transport("play/pause", func(ctx context.Context) error {
			return r.TogglePlayPause(ctx, false)
		})

	case "right", ".":
		return m, m.transport("next frame", r.NextFrame)

	case "left", ",":
		return m, m.transport("previous frame", r.PreviousFrame)

	case "[", "]":
		delta := time.Duration(float64(m.info.Duration) * seekStep)
		if key == "[" {
			delta = -delta
		}
		at := max(m.info.Position+delta, 0)
		return m, m.transport("seek", func(ctx context.Context) error {
			return r.Seek(ctx, at)
		})

	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		pos := float64(key[0]-'0') / 10
		return m, m.transport("set position", func(context.Context) error {
			return r.SetPosition(pos)
		})

	case "s":
		m.status = "Stopping..."
		return m, m.transport("stop", func(context.Context) error {
			return r.StopPreview()
		})

	case "r":
		m.status = "Loading..."
		return m, m.load(m.info.Position)

	case "m":
		return m, m.toggleAudio
	}

	return m, nil
}

// placeVideo positions the video below the status line, centered
func (m *Model) placeVideo() {
	cols, rows, widthPx, heightPx, err := player.GetTerminalSize()
	if err != nil {
		m.log.Debug("tui: terminal size unavailable", "error", err)
		return
	}
	m.surface.SetTerminalSize(cols, rows, widthPx, heightPx)
	m.surface.CenterVideo(m.videoWidthPx, m.videoHeightPx, m.videoTop()+2)
}

// View renders the UI
func (m Model) View() string {
	switch m.state {
	case stateLoading:
		return m.viewLoading()
	case stateError:
		return m.viewError()
	case statePreview:
		return m.viewPreview()
	default:
		return ""
	}
}

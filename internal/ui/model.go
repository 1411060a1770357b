// ABOUTME: Bubbletea model for the playback TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chime-player/chime-go/internal/engine"
)

// Controls carries the callbacks the TUI drives. Nil fields are ignored,
// so tests can wire only what they assert on.
type Controls struct {
	Play      func()
	Pause     func()
	Stop      func()
	Seek      func(pos time.Duration)
	SetVolume func(gain float64)
	Next      func()
	Prev      func()
}

// Messages pushed into the program by the playback side.
type (
	// TrackMsg announces the current track and its stream format.
	TrackMsg struct {
		Path   string
		Format string
	}

	// StateMsg carries a transport state transition.
	StateMsg engine.Status

	// PositionMsg carries the current in-track position.
	PositionMsg time.Duration

	// DeviceLostMsg reports an unrecoverable output device.
	DeviceLostMsg struct{ Err error }
)

// Model represents the TUI state.
type Model struct {
	controls Controls

	trackPath string
	format    string
	status    engine.Status
	position  time.Duration
	volume    float64
	lastError string

	width  int
	height int
}

// NewModel creates the TUI model with an initial volume.
func NewModel(controls Controls, volume float64) Model {
	return Model{
		controls: controls,
		status:   engine.Stopped,
		volume:   volume,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case TrackMsg:
		m.trackPath = msg.Path
		m.format = msg.Format
		m.position = 0
		m.lastError = ""
	case StateMsg:
		m.status = engine.Status(msg)
	case PositionMsg:
		m.position = time.Duration(msg)
	case DeviceLostMsg:
		m.lastError = fmt.Sprintf("output device lost: %v", msg.Err)
	}

	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		if m.status == engine.Playing || m.status == engine.TrackEnding {
			m.call(m.controls.Pause)
		} else {
			m.call(m.controls.Play)
		}
	case "s":
		m.call(m.controls.Stop)
	case "left":
		pos := m.position - 5*time.Second
		if pos < 0 {
			pos = 0
		}
		if m.controls.Seek != nil {
			m.controls.Seek(pos)
		}
	case "right":
		if m.controls.Seek != nil {
			m.controls.Seek(m.position + 5*time.Second)
		}
	case "up":
		m.volume += 0.05
		if m.volume > 1 {
			m.volume = 1
		}
		if m.controls.SetVolume != nil {
			m.controls.SetVolume(m.volume)
		}
	case "down":
		m.volume -= 0.05
		if m.volume < 0 {
			m.volume = 0
		}
		if m.controls.SetVolume != nil {
			m.controls.SetVolume(m.volume)
		}
	case "n":
		m.call(m.controls.Next)
	case "b":
		m.call(m.controls.Prev)
	}

	return m, nil
}

func (m Model) call(f func()) {
	if f != nil {
		f()
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := "┌─ Chime ──────────────────────────────────────────────┐\n"
	s += m.renderTrack()
	s += m.renderTransport()
	if m.lastError != "" {
		s += fmt.Sprintf("│ ⚠ %-51s │\n", truncate(m.lastError, 51))
	}
	s += m.renderHelp()

	return s
}

func (m Model) renderTrack() string {
	if m.trackPath == "" {
		return "│ No track loaded                                      │\n"
	}
	s := fmt.Sprintf("│ Track:  %-45s │\n", truncate(m.trackPath, 45))
	s += fmt.Sprintf("│ Format: %-45s │\n", m.format)
	return s
}

func (m Model) renderTransport() string {
	volumeBar := renderBar(int(m.volume*100), 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ State:    %-43s │\n"+
		"│ Position: %-43s │\n"+
		"│ Volume:   [%s] %3d%%%-27s │\n",
		m.status, formatDuration(m.position), volumeBar, int(m.volume*100), "")
}

func (m Model) renderHelp() string {
	return `│ space:Play/Pause  ←/→:Seek  ↑/↓:Volume  n/b:Track    │
│ s:Stop  q:Quit                                       │
└──────────────────────────────────────────────────────┘
`
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the playback UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the TUI. Playback state is pushed into the returned program
// with Send; user input flows back through the controls callbacks.
func Run(controls Controls, volume float64) *tea.Program {
	return tea.NewProgram(NewModel(controls, volume), tea.WithAltScreen())
}

package ui

import "github.com/charmbracelet/lipgloss"

// ANSI palette indexes, so the user's terminal theme picks the actual shade.
const (
	ColorSuccess   lipgloss.Color = "2"
	ColorError     lipgloss.Color = "1"
	ColorWarning   lipgloss.Color = "3"
	ColorInfo      lipgloss.Color = "6"
	ColorPrimary   lipgloss.Color = "7"
	ColorSecondary lipgloss.Color = "4"
	ColorMuted     lipgloss.Color = "8"
)

// GPU states in CLI output.
const (
	ColorFree = ColorSuccess
	ColorBusy = ColorWarning
)

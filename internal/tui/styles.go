package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Color Palette
	// Primary: Cyan - used for the title and the drag handle
	// Accent: Amber - used for selection/focus
	// Success: Green - used for running targets and the new tab button
	// Error: Red - used for warnings/errors
	// Text: White/Gray hierarchy

	primary    = lipgloss.Color("#00d4ff") // Cyan
	accent     = lipgloss.Color("#ffb627") // Amber
	success    = lipgloss.Color("#00ff87") // Green
	danger     = lipgloss.Color("#ff5f5f") // Red
	textNormal = lipgloss.Color("#e4e4e4") // Light gray
	textMuted  = lipgloss.Color("#6c757d") // Gray
	textDim    = lipgloss.Color("#495057") // Dark gray

	// Title styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	// Divider style - subtle color for section separators
	dividerStyle = lipgloss.NewStyle().
			Foreground(textDim)

	// Drag handle while a drag is in progress
	handleActiveStyle = lipgloss.NewStyle().
				Foreground(primary)

	// Target list styles
	selectedItemStyle = lipgloss.NewStyle().
				Foreground(accent).
				Bold(true)

	normalItemStyle = lipgloss.NewStyle().
			Foreground(textNormal)

	stoppedItemStyle = lipgloss.NewStyle().
				Foreground(textDim)

	runningBadgeStyle = lipgloss.NewStyle().
				Foreground(success)

	metadataStyle = lipgloss.NewStyle().
			Foreground(textMuted).
			PaddingLeft(2)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(textMuted).
				Italic(true)

	// Status message styles
	statusStyle = lipgloss.NewStyle().
			Foreground(textMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger).
			Bold(true)

	// Help overlay
	dialogBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(1, 2)
)

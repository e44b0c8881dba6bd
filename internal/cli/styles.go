// Package cli renders the terminal output of the earloop command: the styled
// help screen, version banner, startup summary and fatal errors.
package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#2E8B57") // Sea green
	warnColor    = lipgloss.Color("#FFA500") // Orange
	errorColor   = lipgloss.Color("#C00000") // Red
	mutedColor   = lipgloss.Color("#888888") // Gray
	textColor    = lipgloss.Color("#FFFFFF") // White
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	WarnStyle = lipgloss.NewStyle().
			Foreground(warnColor)

	// Key-value pair styles
	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
)

// PrintVersion prints version information to w.
func PrintVersion(w io.Writer, version string) {
	fmt.Fprintln(w, TitleStyle.Render("earloop"))
	fmt.Fprintf(w, "%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
}

// PrintError prints an error message to w.
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), message)
}

// PrintWarning prints a warning to w.
func PrintWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", WarnStyle.Render("Warning:"), message)
}

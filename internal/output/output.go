// Package output provides styled terminal output helpers (success,
// error, warning, item formatting) using lipgloss.
package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/telaman/tsync/internal/models"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Strikethrough(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// Item formats one task line: checkbox, text, and a pending marker for
// items that only exist locally so far.
func Item(it models.Item) string {
	box := "[ ]"
	text := it.Text
	if it.Completed {
		box = "[x]"
		text = doneStyle.Render(text)
	}
	line := fmt.Sprintf("%s %s", box, text)
	if it.IsPlaceholder() {
		line += " " + subtleStyle.Render("(pending sync)")
	}
	return truncateToTerm(line)
}

// ItemWithID is the long form including the identifier.
func ItemWithID(it models.Item) string {
	return fmt.Sprintf("%s  %s", subtleStyle.Render(it.ID), Item(it))
}

// OnlineIndicator renders the connectivity state.
func OnlineIndicator(online bool) string {
	if online {
		return onlineStyle.Render("Online")
	}
	return offlineStyle.Render("Offline")
}

// PendingSummary renders the queue depth, or empty when nothing is
// queued.
func PendingSummary(n int) string {
	if n == 0 {
		return ""
	}
	unit := "mutations"
	if n == 1 {
		unit = "mutation"
	}
	return warningStyle.Render(fmt.Sprintf("%d %s pending sync", n, unit))
}

// truncateToTerm trims a line to the terminal width, when there is one.
func truncateToTerm(line string) string {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 4 {
		return line
	}
	if len(line) <= w {
		return line
	}
	// Rough cut: styled sequences make exact width moot here.
	return strings.TrimSpace(line[:w-3]) + "..."
}

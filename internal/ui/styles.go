// Package ui renders tasks, projects, and sync state for the terminal.
package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/devfocus/devfocus/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Faint(true)
	tagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	columnStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	statusColors = map[model.Status]lipgloss.Style{
		model.StatusBacklog:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		model.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		model.StatusReview:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}

	priorityLabels = map[model.Priority]string{
		model.PriorityHigh:   "HIGH",
		model.PriorityMedium: "MED",
		model.PriorityLow:    "LOW",
	}
	priorityStyles = map[model.Priority]lipgloss.Style{
		model.PriorityHigh:   errorStyle,
		model.PriorityMedium: warnStyle,
		model.PriorityLow:    dimStyle,
	}
)

// Plain disables all styling, for --no-color and non-TTY output.
func Plain() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// StatusBadge renders a kanban column label in its column color.
func StatusBadge(status model.Status) string {
	style, ok := statusColors[status]
	if !ok {
		return string(status)
	}
	return style.Render(status.Label())
}

// PriorityBadge renders a short priority marker, or "" for no priority.
func PriorityBadge(priority model.Priority) string {
	label, ok := priorityLabels[priority]
	if !ok {
		return ""
	}
	return priorityStyles[priority].Render(label)
}

// DueBadge renders a due date, highlighted when overdue.
func DueBadge(dueMillis int64) string {
	due := time.UnixMilli(dueMillis)
	label := "due " + due.Format("Jan 2")
	if due.Before(time.Now()) {
		return errorStyle.Render(label)
	}
	return dimStyle.Render(label)
}

// SyncBadge renders the engine status with a pending-count suffix when
// work is queued.
func SyncBadge(status string, pending int) string {
	var rendered string
	switch status {
	case "idle":
		rendered = okStyle.Render("synced")
	case "syncing":
		rendered = warnStyle.Render("syncing")
	case "offline":
		rendered = warnStyle.Render("offline")
	case "unauthenticated":
		rendered = dimStyle.Render("local only")
	default:
		rendered = errorStyle.Render(status)
	}
	if pending > 0 {
		rendered += dimStyle.Render(fmt.Sprintf(" (%d pending)", pending))
	}
	return rendered
}

// Dim renders secondary text.
func Dim(s string) string { return dimStyle.Render(s) }

// Title renders emphasized text.
func Title(s string) string { return titleStyle.Render(s) }

// RenderPass renders success markers.
func RenderPass(s string) string { return okStyle.Render(s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders failure markers.
func RenderFail(s string) string { return errorStyle.Render(s) }

// RenderAccent renders accent markers.
func RenderAccent(s string) string { return tagStyle.Render(s) }

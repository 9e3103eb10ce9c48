// Package ui provides styled terminal output helpers for the CLI.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RenderAccent highlights headings and key values.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderSuccess marks successful outcomes.
func RenderSuccess(s string) string { return successStyle.Render(s) }

// RenderWarn marks advisories ("saved locally, will sync later").
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderError marks hard failures.
func RenderError(s string) string { return errorStyle.Render(s) }

// RenderMuted de-emphasizes supplemental detail.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// Check renders a pass/fail marker.
func Check(ok bool) string {
	if ok {
		return successStyle.Render("✓")
	}
	return errorStyle.Render("✗")
}

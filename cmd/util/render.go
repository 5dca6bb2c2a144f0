package util

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/snowflake-kv/sfdash/lib/session"
)

// Styles used by all command output
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true)
	HeaderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	KeyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	OKStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	WarningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	FaintStyle   = lipgloss.NewStyle().Faint(true)
	SectionStyle = lipgloss.NewStyle().MarginTop(1)
)

// Field is one labeled line of a section
type Field struct {
	Name  string
	Value string
}

// RenderSection renders a title followed by aligned name/value lines
func RenderSection(title string, fields ...Field) string {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Name))
	}

	lines := []string{TitleStyle.Render(title)}
	for _, f := range fields {
		name := KeyStyle.Render(fmt.Sprintf("  %-*s", width+1, f.Name+":"))
		lines = append(lines, name+" "+ValueStyle.Render(f.Value))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderTable renders rows below the given headers
func RenderTable(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return FaintStyle.Render("no entries")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(HeaderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			return ValueStyle.Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.Render()
}

// RenderOverlay renders the connection status of a session
func RenderOverlay(state session.State, o session.Overlay) string {
	if !o.Open {
		return OKStyle.Render("● connected")
	}
	if o.NeedsCredential {
		return WarningStyle.Render("● access key required")
	}

	status := o.Status
	if o.Spinner {
		status += " ..."
	}

	lines := []string{WarningStyle.Render(fmt.Sprintf("● %s", status))}
	lines = append(lines, FaintStyle.Render(fmt.Sprintf("  state: %s", state)))
	if o.CanReconnect {
		lines = append(lines, FaintStyle.Render("  reconnect by running the command again, or `sfdash logout` to change the access key"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

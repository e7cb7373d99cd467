package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a new Bubbles table with default styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.
		Foreground(ColorPrimary)
	// Nothing is focused in CLI output, so the selected row renders like any other.
	s.Selected = s.Cell

	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	return NewTable(columns, tableRows).View()
}

// Row states for RenderStatusTable.
const (
	StateFree  = "free"
	StateBusy  = "busy"
	StateError = "error"
	StateIdle  = "idle"
)

// StatusTableRow is one server in the status table.
type StatusTableRow struct {
	State   string // StateFree, StateBusy, StateError, or StateIdle
	Server  string
	Address string
	GPUs    string // e.g. "2/8 free"
	Detail  string // average load, or the failure summary
}

// RenderStatusTable renders one-shot poll results with a status glyph per server.
func RenderStatusTable(rows []StatusTableRow) string {
	if len(rows) == 0 {
		return "No servers configured"
	}

	freeStyle := lipgloss.NewStyle().Foreground(ColorFree)
	errorStyle := lipgloss.NewStyle().Foreground(ColorError)
	busyStyle := lipgloss.NewStyle().Foreground(ColorBusy)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)

	var b strings.Builder
	header := "  " + padRight("", 3) + padRight("SERVER", 17) + padRight("ADDRESS", 28) + padRight("GPUS", 12) + "DETAIL"
	b.WriteString(headerStyle.Render(header) + "\n")

	for _, row := range rows {
		var icon, detail string
		switch row.State {
		case StateFree:
			icon = freeStyle.Render(SymbolFree)
			detail = mutedStyle.Render(row.Detail)
		case StateBusy:
			icon = busyStyle.Render(SymbolBusy)
			detail = mutedStyle.Render(row.Detail)
		case StateError:
			icon = errorStyle.Render(SymbolFail)
			detail = errorStyle.Render(row.Detail)
		default:
			icon = mutedStyle.Render(SymbolPending)
			detail = mutedStyle.Render(row.Detail)
		}

		b.WriteString("  " + padRight(icon, 3) +
			padRight(row.Server, 17) +
			padRight(row.Address, 28) +
			padRight(row.GPUs, 12) +
			detail + "\n")
	}

	return b.String()
}

// DoctorCheckRow represents a row in the doctor diagnostic table.
type DoctorCheckRow struct {
	Status     string // "pass", "warn", "fail"
	Category   string
	Message    string
	Suggestion string // Shown under non-passing rows
}

// RenderDoctorTable renders check results grouped by category, in first-seen
// category order.
func RenderDoctorTable(rows []DoctorCheckRow) string {
	if len(rows) == 0 {
		return "No checks to display"
	}

	successStyle := lipgloss.NewStyle().Foreground(ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ColorError)
	warnStyle := lipgloss.NewStyle().Foreground(ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	categories := make(map[string][]DoctorCheckRow)
	var categoryOrder []string
	for _, row := range rows {
		if _, exists := categories[row.Category]; !exists {
			categoryOrder = append(categoryOrder, row.Category)
		}
		categories[row.Category] = append(categories[row.Category], row)
	}

	var b strings.Builder
	for _, cat := range categoryOrder {
		b.WriteString(headerStyle.Render(cat) + "\n")

		for _, row := range categories[cat] {
			var icon string
			switch row.Status {
			case "pass":
				icon = successStyle.Render(SymbolSuccess)
			case "warn":
				icon = warnStyle.Render(SymbolWarning)
			case "fail":
				icon = errorStyle.Render(SymbolFail)
			default:
				icon = mutedStyle.Render(SymbolPending)
			}

			b.WriteString("  " + icon + " " + row.Message + "\n")
			if row.Suggestion != "" && row.Status != "pass" {
				b.WriteString("    " + mutedStyle.Render(row.Suggestion) + "\n")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// padRight pads a string to the specified visible width.
func padRight(s string, width int) string {
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}

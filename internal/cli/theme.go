package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type Theme struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Faint   lipgloss.Style
}

var theme = Theme{
	Title:   lipgloss.NewStyle().Bold(true),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	Faint:   lipgloss.NewStyle().Faint(true),
}

// renderTable 空表返回 (none)。
func renderTable(title string, headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return theme.Title.Render(title) + "\n" + theme.Faint.Render("(none)") + "\n"
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		})
	return theme.Title.Render(title) + "\n" + t.Render() + "\n"
}
